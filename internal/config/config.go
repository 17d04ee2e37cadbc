package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir    string           `json:"dataDir" yaml:"dataDir"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Encryption EncryptionConfig `json:"encryption" yaml:"encryption"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// JournalConfig tunes journal files and blocks.
type JournalConfig struct {
	// Compress gzips each journal block as an independent stream.
	Compress bool `json:"compress" yaml:"compress"`
	// BlockBytes is the uncompressed block rotation threshold.
	BlockBytes int `json:"blockBytes" yaml:"blockBytes"`
	// MaxAttributeBytes bounds flowfile attribute values at write time.
	MaxAttributeBytes int `json:"maxAttributeBytes" yaml:"maxAttributeBytes"`
	// MaxJournalBytes and MaxJournalEvents trigger journal rollover.
	MaxJournalBytes  uint64 `json:"maxJournalBytes" yaml:"maxJournalBytes"`
	MaxJournalEvents uint64 `json:"maxJournalEvents" yaml:"maxJournalEvents"`
	// SyncTOC fsyncs the TOC after every block entry.
	SyncTOC bool `json:"syncToc" yaml:"syncToc"`
}

// EncryptionConfig enables per-record at-rest encryption.
type EncryptionConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// KeyID names the key new records are encrypted under.
	KeyID string `json:"keyId" yaml:"keyId"`
	// KeystorePath points at the JSON keystore file.
	KeystorePath string `json:"keystorePath" yaml:"keystorePath"`
	// KeystorePassphrase unlocks the keystore. Prefer the
	// NIFI_PROV_KEYSTORE_PASSPHRASE environment variable over the file.
	KeystorePassphrase string `json:"keystorePassphrase" yaml:"keystorePassphrase"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level"`
	// Format is "text" or "json".
	Format string `json:"format" yaml:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Journal: JournalConfig{
			Compress:          true,
			BlockBytes:        1 << 20,
			MaxAttributeBytes: 64 << 10,
			MaxJournalBytes:   256 << 20,
			MaxJournalEvents:  1_000_000,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate reports obviously inconsistent settings.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir is required")
	}
	if c.Journal.BlockBytes < 0 {
		return fmt.Errorf("config: journal.blockBytes must not be negative")
	}
	if c.Encryption.Enabled {
		if c.Encryption.KeyID == "" {
			return fmt.Errorf("config: encryption.keyId is required when encryption is enabled")
		}
		if c.Encryption.KeystorePath == "" {
			return fmt.Errorf("config: encryption.keystorePath is required when encryption is enabled")
		}
	}
	return nil
}
