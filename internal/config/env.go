package config

import (
	"os"
	"strconv"
)

// FromEnv overlays NIFI_PROV_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("NIFI_PROV_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("NIFI_PROV_JOURNAL_COMPRESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Journal.Compress = b
		}
	}
	if v := os.Getenv("NIFI_PROV_JOURNAL_BLOCK_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Journal.BlockBytes = n
		}
	}
	if v := os.Getenv("NIFI_PROV_JOURNAL_MAX_ATTRIBUTE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Journal.MaxAttributeBytes = n
		}
	}
	if v := os.Getenv("NIFI_PROV_JOURNAL_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Journal.MaxJournalBytes = n
		}
	}
	if v := os.Getenv("NIFI_PROV_JOURNAL_MAX_EVENTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Journal.MaxJournalEvents = n
		}
	}
	if v := os.Getenv("NIFI_PROV_JOURNAL_SYNC_TOC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Journal.SyncTOC = b
		}
	}
	if v := os.Getenv("NIFI_PROV_ENCRYPTION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Encryption.Enabled = b
		}
	}
	if v := os.Getenv("NIFI_PROV_ENCRYPTION_KEY_ID"); v != "" {
		cfg.Encryption.KeyID = v
	}
	if v := os.Getenv("NIFI_PROV_KEYSTORE_PATH"); v != "" {
		cfg.Encryption.KeystorePath = v
	}
	if v := os.Getenv("NIFI_PROV_KEYSTORE_PASSPHRASE"); v != "" {
		cfg.Encryption.KeystorePassphrase = v
	}
	if v := os.Getenv("NIFI_PROV_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("NIFI_PROV_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
