package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "FIELDSYNC_"

// holds command-line values relevant to config resolution and which were set
type Flags struct {
	Config  string
	DataDir string
	Verbose bool
	Set     map[string]bool
}

// holds the results of applying environment overrides
type EnvResult struct {
	EnvUsed bool
	Keys    []string // env names that were set, without values
}

// holds the result of LoadEffectiveConfig
type EffectiveConfigResult struct {
	Config  *Config
	DataDir string
	Sources []string // "file", "env", "flags"
}

// loads config from file, returns config, found bool, and error
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) && !flags.Set["config"] {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// loads FIELDSYNC_* environment variables into a new Config; caller config is unchanged
func ParseConfigEnvs() (*Config, EnvResult) {
	envs := map[string]string{}
	for _, name := range []string{
		"SERVER_URL", "INSTANCE_PATH", "TIMEOUT_SAVE", "TIMEOUT_LOAD", "TIMEOUT_FILES", "MAX_UPLOAD_BYTES",
		"SYNC_MODE", "SYNC_SCHEDULE", "DEPLOY_CONCURRENCY", "DEPLOY_RATE",
		"USERNAME", "USERID", "NS_RECORDS", "NS_SHARED", "NS_LOCK",
		"KEY_RECORDS", "KEY_SHARED", "KEY_LOCK", "MASTER_KEY_HEX", "BACKUP_PUBLIC_KEY", "DEVELOP", "READ_ONLY",
		"DATA_DIR", "DISABLE_WAL", "SCHEMA_PATH",
		"LOG_LEVEL", "LOG_AUDIT", "METRICS_ADDR", "TELEMETRY_SLOW_THRESHOLD",
	} {
		if v := os.Getenv(envPrefix + name); v != "" {
			envs[name] = v
		}
	}

	res := EnvResult{EnvUsed: len(envs) > 0}
	for k := range envs {
		res.Keys = append(res.Keys, envPrefix+k)
	}
	envCfg := &Config{}

	parseBool := func(v string) bool {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			return true
		default:
			return false
		}
	}

	// server
	envCfg.Server.BaseURL = envs["SERVER_URL"]
	envCfg.Server.InstancePath = envs["INSTANCE_PATH"]
	if v := envs["TIMEOUT_SAVE"]; v != "" {
		envCfg.Server.TimeoutSave, _ = parseDuration(v)
	}
	if v := envs["TIMEOUT_LOAD"]; v != "" {
		envCfg.Server.TimeoutLoad, _ = parseDuration(v)
	}
	if v := envs["TIMEOUT_FILES"]; v != "" {
		envCfg.Server.TimeoutFiles, _ = parseDuration(v)
	}
	if v := envs["MAX_UPLOAD_BYTES"]; v != "" {
		envCfg.Server.MaxUploadBytes, _ = parseSize(v)
	}

	// sync
	envCfg.Sync.Mode = strings.ToLower(strings.TrimSpace(envs["SYNC_MODE"]))
	envCfg.Sync.Schedule = envs["SYNC_SCHEDULE"]
	if v := envs["DEPLOY_CONCURRENCY"]; v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envCfg.Sync.DeployConcurrency = n
		}
	}
	if v := envs["DEPLOY_RATE"]; v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envCfg.Sync.DeployRate = f
		}
	}

	// profile
	envCfg.Profile.Username = envs["USERNAME"]
	if v := envs["USERID"]; v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			envCfg.Profile.UserID = n
		}
	}
	envCfg.Profile.Namespaces.Records = envs["NS_RECORDS"]
	envCfg.Profile.Namespaces.Shared = envs["NS_SHARED"]
	envCfg.Profile.Namespaces.Lock = envs["NS_LOCK"]
	for _, role := range []string{"records", "shared", "lock"} {
		if v := envs["KEY_"+strings.ToUpper(role)]; v != "" {
			if envCfg.Profile.Keys == nil {
				envCfg.Profile.Keys = map[string]string{}
			}
			envCfg.Profile.Keys[role] = v
		}
	}
	envCfg.Profile.MasterKeyHex = envs["MASTER_KEY_HEX"]
	envCfg.Profile.BackupPublicKey = envs["BACKUP_PUBLIC_KEY"]
	if v := envs["DEVELOP"]; v != "" {
		envCfg.Profile.Develop = parseBool(v)
	}
	if v := envs["READ_ONLY"]; v != "" {
		envCfg.Profile.ReadOnly = parseBool(v)
	}

	// storage
	envCfg.Storage.DataDir = envs["DATA_DIR"]
	if v := envs["DISABLE_WAL"]; v != "" {
		envCfg.Storage.DisableWAL = parseBool(v)
	}
	envCfg.Schema.Path = envs["SCHEMA_PATH"]

	// logging, metrics
	envCfg.Logging.Level = strings.TrimSpace(envs["LOG_LEVEL"])
	if v := envs["LOG_AUDIT"]; v != "" {
		envCfg.Logging.Audit = parseBool(v)
	}
	envCfg.Metrics.Addr = envs["METRICS_ADDR"]
	if v := envs["TELEMETRY_SLOW_THRESHOLD"]; v != "" {
		envCfg.Telemetry.SlowThreshold, _ = parseDuration(v)
	}

	return envCfg, res
}

// layers the file config, env overrides and explicit flags, in that order, over defaults
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] && !fileExists {
		return res, fmt.Errorf("config file %s not found", flags.Config)
	}

	out := &Config{}
	if fileExists && fileCfg != nil {
		mergeConfig(out, fileCfg)
		res.Sources = append(res.Sources, "file")
	}
	if envRes.EnvUsed && envCfg != nil {
		mergeConfig(out, envCfg)
		res.Sources = append(res.Sources, "env")
	}
	if flags.Set["data-dir"] {
		out.Storage.DataDir = flags.DataDir
		res.Sources = append(res.Sources, "flags")
	}
	if flags.Verbose {
		out.Logging.Level = "debug"
	}
	if len(res.Sources) == 0 {
		res.Sources = []string{"defaults"}
	}

	out.ApplyDefaults()
	res.Config = out
	res.DataDir = out.Storage.DataDir
	return res, nil
}

// copies every non-zero field of src over dst
func mergeConfig(dst, src *Config) {
	setStr := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}

	setStr(&dst.Server.BaseURL, src.Server.BaseURL)
	setStr(&dst.Server.InstancePath, src.Server.InstancePath)
	if src.Server.TimeoutSave != 0 {
		dst.Server.TimeoutSave = src.Server.TimeoutSave
	}
	if src.Server.TimeoutLoad != 0 {
		dst.Server.TimeoutLoad = src.Server.TimeoutLoad
	}
	if src.Server.TimeoutFiles != 0 {
		dst.Server.TimeoutFiles = src.Server.TimeoutFiles
	}
	if src.Server.MaxUploadBytes != 0 {
		dst.Server.MaxUploadBytes = src.Server.MaxUploadBytes
	}

	setStr(&dst.Sync.Mode, src.Sync.Mode)
	setStr(&dst.Sync.Schedule, src.Sync.Schedule)
	if src.Sync.DeployConcurrency != 0 {
		dst.Sync.DeployConcurrency = src.Sync.DeployConcurrency
	}
	if src.Sync.DeployRate != 0 {
		dst.Sync.DeployRate = src.Sync.DeployRate
	}

	setStr(&dst.Profile.Username, src.Profile.Username)
	if src.Profile.UserID != 0 {
		dst.Profile.UserID = src.Profile.UserID
	}
	setStr(&dst.Profile.Namespaces.Records, src.Profile.Namespaces.Records)
	setStr(&dst.Profile.Namespaces.Shared, src.Profile.Namespaces.Shared)
	setStr(&dst.Profile.Namespaces.Lock, src.Profile.Namespaces.Lock)
	for k, v := range src.Profile.Keys {
		if dst.Profile.Keys == nil {
			dst.Profile.Keys = map[string]string{}
		}
		dst.Profile.Keys[k] = v
	}
	setStr(&dst.Profile.MasterKeyHex, src.Profile.MasterKeyHex)
	setStr(&dst.Profile.BackupPublicKey, src.Profile.BackupPublicKey)
	dst.Profile.Develop = dst.Profile.Develop || src.Profile.Develop
	dst.Profile.ReadOnly = dst.Profile.ReadOnly || src.Profile.ReadOnly

	setStr(&dst.Storage.DataDir, src.Storage.DataDir)
	dst.Storage.DisableWAL = dst.Storage.DisableWAL || src.Storage.DisableWAL
	setStr(&dst.Schema.Path, src.Schema.Path)

	setStr(&dst.Logging.Level, src.Logging.Level)
	dst.Logging.Audit = dst.Logging.Audit || src.Logging.Audit
	setStr(&dst.Metrics.Addr, src.Metrics.Addr)
	if src.Telemetry.SlowThreshold != 0 {
		dst.Telemetry.SlowThreshold = src.Telemetry.SlowThreshold
	}
}
