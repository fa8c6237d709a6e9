package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fieldsync.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfigFileParsesHumanValues(t *testing.T) {
	p := writeConfig(t, `
server:
  base_url: http://localhost:8889
  instance_path: /demo
  timeout_save: 15s
  timeout_load: 90
  max_upload_bytes: 4MB
sync:
  mode: mirror
  schedule: "*/2 * * * *"
profile:
  username: jo
  userid: 7
  namespaces:
    records: ns7
  keys:
    records: `+testKey+`
`)
	cfg, err := LoadConfigFile(p)
	require.NoError(t, err)
	cfg.ApplyDefaults()

	assert.Equal(t, 15*time.Second, cfg.Server.TimeoutSave.Duration())
	assert.Equal(t, 90*time.Second, cfg.Server.TimeoutLoad.Duration())
	assert.Equal(t, int64(4_000_000), cfg.Server.MaxUploadBytes.Int64())
	assert.Equal(t, "/demo/", cfg.Server.InstancePath)
	assert.Equal(t, "http://localhost:8889/demo/", cfg.InstanceURL())
	assert.Equal(t, SyncModeMirror, cfg.Sync.Mode)
	assert.Equal(t, "ns7", cfg.Profile.Namespaces.Records)
	assert.Equal(t, DefaultDeployConcurrency, cfg.Sync.DeployConcurrency)
}

func TestEffectiveConfigLayers(t *testing.T) {
	p := writeConfig(t, `
server:
  base_url: http://file
profile:
  username: file-user
  keys:
    records: `+testKey+`
storage:
  data_dir: /from/file
`)
	t.Setenv("FIELDSYNC_USERNAME", "env-user")
	t.Setenv("FIELDSYNC_SYNC_MODE", "Offline")

	flags := Flags{Config: p, DataDir: "/from/flags", Set: map[string]bool{"config": true, "data-dir": true}}
	fileCfg, found, err := ParseConfigFile(flags)
	require.NoError(t, err)
	require.True(t, found)
	envCfg, envRes := ParseConfigEnvs()
	assert.True(t, envRes.EnvUsed)

	eff, err := LoadEffectiveConfig(flags, fileCfg, found, envCfg, envRes)
	require.NoError(t, err)

	assert.Equal(t, []string{"file", "env", "flags"}, eff.Sources)
	assert.Equal(t, "env-user", eff.Config.Profile.Username)
	assert.Equal(t, SyncModeOffline, eff.Config.Sync.Mode)
	assert.Equal(t, "http://file", eff.Config.Server.BaseURL)
	assert.Equal(t, "/from/flags", eff.DataDir)
	assert.NoError(t, ValidateConfig(eff))
}

func TestExplicitMissingConfigFails(t *testing.T) {
	flags := Flags{Config: filepath.Join(t.TempDir(), "nope.yaml"), Set: map[string]bool{"config": true}}
	_, _, err := ParseConfigFile(flags)
	require.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.Server.BaseURL = "http://localhost:8889"
		c.Profile.Username = "jo"
		c.Profile.Keys = map[string]string{"records": testKey}
		c.ApplyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Sync.Mode = "sometimes" }, "invalid sync.mode"},
		{"missing url", func(c *Config) { c.Server.BaseURL = "" }, "server.base_url is required"},
		{"offline without url", func(c *Config) { c.Server.BaseURL = ""; c.Sync.Mode = SyncModeOffline }, ""},
		{"bad cron", func(c *Config) { c.Sync.Schedule = "every minute" }, "invalid sync.schedule"},
		{"missing user", func(c *Config) { c.Profile.Username = "" }, "profile.username"},
		{"short key", func(c *Config) { c.Profile.Keys["records"] = "hex:abcd" }, "profile.keys.records"},
		{"shared without key", func(c *Config) { c.Profile.Namespaces.Shared = "srv" }, "profile.keys.shared"},
		{"wrapped without master", func(c *Config) { c.Profile.Keys["records"] = "wrapped:abc" }, "master_key_hex"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := ValidateConfig(EffectiveConfigResult{Config: c, DataDir: c.Storage.DataDir})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
