package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"fieldsync/pkg/crypto"

	"github.com/adhocore/gronx"
)

// fail fast on critical errors; expects defaults to be applied
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	if strings.TrimSpace(eff.DataDir) == "" {
		return fmt.Errorf("data dir is empty: set --data-dir flag, FIELDSYNC_DATA_DIR env, or storage.data_dir in config")
	}

	switch cfg.Sync.Mode {
	case SyncModeOffline, SyncModeOnline, SyncModeMirror:
	default:
		return fmt.Errorf("invalid sync.mode %q: expected offline, online or mirror", cfg.Sync.Mode)
	}
	if cfg.Sync.Mode != SyncModeOffline {
		if cfg.Server.BaseURL == "" {
			return fmt.Errorf("server.base_url is required unless sync.mode is offline")
		}
		if u, err := url.Parse(cfg.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid server.base_url %q", cfg.Server.BaseURL)
		}
	}
	if cfg.Sync.Schedule != "" {
		gron := gronx.New()
		if !gron.IsValid(cfg.Sync.Schedule) {
			return fmt.Errorf("invalid sync.schedule: not a valid cron expression")
		}
	}

	if cfg.Profile.Username == "" {
		return fmt.Errorf("profile.username is required")
	}
	if len(cfg.Profile.Keys["records"]) == 0 {
		return fmt.Errorf("profile.keys.records is required")
	}
	if cfg.Profile.Namespaces.Shared != "" && len(cfg.Profile.Keys["shared"]) == 0 {
		return fmt.Errorf("profile.namespaces.shared is set but profile.keys.shared is missing")
	}
	if cfg.Profile.Namespaces.Lock != "" && len(cfg.Profile.Keys["lock"]) == 0 {
		return fmt.Errorf("profile.namespaces.lock is set but profile.keys.lock is missing")
	}
	wrapped := false
	for role, v := range cfg.Profile.Keys {
		if strings.HasPrefix(v, "wrapped:") {
			wrapped = true
			continue
		}
		if _, err := crypto.DecodeKey(v); err != nil {
			return fmt.Errorf("invalid profile.keys.%s: %w", role, err)
		}
	}
	if wrapped {
		if cfg.Profile.MasterKeyHex == "" {
			return fmt.Errorf("wrapped profile keys need profile.master_key_hex")
		}
		if b, err := hex.DecodeString(cfg.Profile.MasterKeyHex); err != nil || len(b) != 32 {
			return fmt.Errorf("invalid profile.master_key_hex: expected 64 hex characters")
		}
	}
	if v := cfg.Profile.BackupPublicKey; v != "" {
		if _, err := crypto.DecodeKey(v); err != nil {
			return fmt.Errorf("invalid profile.backup_public_key: %w", err)
		}
	}

	return nil
}
