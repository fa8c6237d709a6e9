package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sync      SyncConfig      `yaml:"sync"`
	Profile   ProfileConfig   `yaml:"profile"`
	Storage   StorageConfig   `yaml:"storage"`
	Schema    SchemaConfig    `yaml:"schema"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig points at the remote instance.
type ServerConfig struct {
	BaseURL        string    `yaml:"base_url"`
	InstancePath   string    `yaml:"instance_path"`
	TimeoutSave    Duration  `yaml:"timeout_save"`
	TimeoutLoad    Duration  `yaml:"timeout_load"`
	TimeoutFiles   Duration  `yaml:"timeout_files"`
	MaxUploadBytes SizeBytes `yaml:"max_upload_bytes"`
}

// SyncConfig controls when and how records and files move.
type SyncConfig struct {
	Mode              string  `yaml:"mode"` // offline | online | mirror
	Schedule          string  `yaml:"schedule"`
	DeployConcurrency int     `yaml:"deploy_concurrency"`
	DeployRate        float64 `yaml:"deploy_rate"`
}

// NamespacesConfig names the storage namespaces of the session.
type NamespacesConfig struct {
	Records string `yaml:"records"`
	Shared  string `yaml:"shared"`
	Lock    string `yaml:"lock"`
}

// ProfileConfig carries the session identity and its keys.
type ProfileConfig struct {
	Username        string            `yaml:"username"`
	UserID          int64             `yaml:"userid"`
	Namespaces      NamespacesConfig  `yaml:"namespaces"`
	Keys            map[string]string `yaml:"keys"`
	MasterKeyHex    string            `yaml:"master_key_hex"`
	BackupPublicKey string            `yaml:"backup_public_key"`
	Develop         bool              `yaml:"develop"`
	ReadOnly        bool              `yaml:"read_only"`
}

// StorageConfig holds local store settings.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	DisableWAL bool   `yaml:"disable_wal"`
}

// SchemaConfig locates the form tree.
type SchemaConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Audit bool   `yaml:"audit"`
}

// MetricsConfig holds the prometheus listener address; empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig controls slow operation reporting.
type TelemetryConfig struct {
	SlowThreshold Duration `yaml:"slow_threshold"`
}

const (
	SyncModeOffline = "offline"
	SyncModeOnline  = "online"
	SyncModeMirror  = "mirror"
)

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
