package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath        = "./fieldsync.yaml"
	DefaultDataDir           = "./.fieldsync"
	DefaultInstancePath      = "/"
	DefaultSyncMode          = SyncModeOnline
	DefaultSyncSchedule      = "*/5 * * * *"
	DefaultDeployConcurrency = 4
	DefaultDeployRate        = 20.0
	DefaultTimeoutSave       = 30 * time.Second
	DefaultTimeoutLoad       = 120 * time.Second
	DefaultTimeoutFiles      = 30 * time.Second
	DefaultMaxUploadBytes    = 8 << 20
	DefaultLogLevel          = "info"
	DefaultRecordsNamespace  = "records"
	DefaultSlowThreshold     = 2 * time.Second
)

// ResolveConfigPath returns the explicit path when set, else the default one.
func ResolveConfigPath(path string, explicit bool) string {
	if explicit && strings.TrimSpace(path) != "" {
		return path
	}
	if strings.TrimSpace(path) != "" {
		return path
	}
	return DefaultConfigPath
}

// LoadConfigFile reads and decodes a yaml config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with the package defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.InstancePath == "" {
		c.Server.InstancePath = DefaultInstancePath
	}
	if !strings.HasSuffix(c.Server.InstancePath, "/") {
		c.Server.InstancePath += "/"
	}
	if c.Server.TimeoutSave == 0 {
		c.Server.TimeoutSave = Duration(DefaultTimeoutSave)
	}
	if c.Server.TimeoutLoad == 0 {
		c.Server.TimeoutLoad = Duration(DefaultTimeoutLoad)
	}
	if c.Server.TimeoutFiles == 0 {
		c.Server.TimeoutFiles = Duration(DefaultTimeoutFiles)
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = SizeBytes(DefaultMaxUploadBytes)
	}
	if c.Sync.Mode == "" {
		c.Sync.Mode = DefaultSyncMode
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = DefaultSyncSchedule
	}
	if c.Sync.DeployConcurrency <= 0 {
		c.Sync.DeployConcurrency = DefaultDeployConcurrency
	}
	if c.Sync.DeployRate <= 0 {
		c.Sync.DeployRate = DefaultDeployRate
	}
	if c.Profile.Namespaces.Records == "" {
		c.Profile.Namespaces.Records = DefaultRecordsNamespace
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Telemetry.SlowThreshold == 0 {
		c.Telemetry.SlowThreshold = Duration(DefaultSlowThreshold)
	}
}

// InstanceURL joins the base url and the instance path.
func (c *Config) InstanceURL() string {
	return strings.TrimSuffix(c.Server.BaseURL, "/") + c.Server.InstancePath
}

// Online reports whether saves should be followed by a sync.
func (c *Config) Online() bool {
	return c.Sync.Mode != SyncModeOffline
}
