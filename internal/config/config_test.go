package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if !cfg.Journal.Compress {
		t.Fatalf("default journal compression should be on")
	}
	if cfg.Journal.BlockBytes != 1<<20 {
		t.Fatalf("block bytes default")
	}
	if cfg.Encryption.Enabled {
		t.Fatalf("encryption should default off")
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level default")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "prov.json")
	data := []byte(`{"dataDir":"/srv/prov","journal":{"compress":false,"blockBytes":4096,"maxJournalEvents":100},"encryption":{"enabled":true,"keyId":"k1","keystorePath":"/etc/keys.json"}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/srv/prov" {
		t.Fatalf("expected /srv/prov, got %s", cfg.DataDir)
	}
	if cfg.Journal.Compress {
		t.Fatalf("expected compression off")
	}
	if cfg.Journal.BlockBytes != 4096 {
		t.Fatalf("expected 4096, got %d", cfg.Journal.BlockBytes)
	}
	if cfg.Journal.MaxJournalEvents != 100 {
		t.Fatalf("expected 100, got %d", cfg.Journal.MaxJournalEvents)
	}
	if !cfg.Encryption.Enabled || cfg.Encryption.KeyID != "k1" {
		t.Fatalf("encryption section not loaded: %+v", cfg.Encryption)
	}
	// Untouched fields keep their defaults.
	if cfg.Journal.MaxAttributeBytes != 64<<10 {
		t.Fatalf("default max attribute bytes lost")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "prov.yaml")
	data := []byte("dataDir: /srv/prov\njournal:\n  compress: false\n  blockBytes: 8192\nlog:\n  level: debug\n  format: json\n")
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/srv/prov" {
		t.Fatalf("expected /srv/prov, got %s", cfg.DataDir)
	}
	if cfg.Journal.BlockBytes != 8192 {
		t.Fatalf("expected 8192, got %d", cfg.Journal.BlockBytes)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log section not loaded: %+v", cfg.Log)
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	os.Setenv("NIFI_PROV_DATA_DIR", "/env/prov")
	os.Setenv("NIFI_PROV_JOURNAL_COMPRESS", "false")
	os.Setenv("NIFI_PROV_JOURNAL_MAX_EVENTS", "42")
	os.Setenv("NIFI_PROV_ENCRYPTION_ENABLED", "true")
	os.Setenv("NIFI_PROV_ENCRYPTION_KEY_ID", "rotated")
	t.Cleanup(func() {
		os.Unsetenv("NIFI_PROV_DATA_DIR")
		os.Unsetenv("NIFI_PROV_JOURNAL_COMPRESS")
		os.Unsetenv("NIFI_PROV_JOURNAL_MAX_EVENTS")
		os.Unsetenv("NIFI_PROV_ENCRYPTION_ENABLED")
		os.Unsetenv("NIFI_PROV_ENCRYPTION_KEY_ID")
	})
	FromEnv(&cfg)
	if cfg.DataDir != "/env/prov" {
		t.Fatalf("env override data dir")
	}
	if cfg.Journal.Compress {
		t.Fatalf("env override bool")
	}
	if cfg.Journal.MaxJournalEvents != 42 {
		t.Fatalf("env override max events")
	}
	if !cfg.Encryption.Enabled || cfg.Encryption.KeyID != "rotated" {
		t.Fatalf("env override encryption")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	cfg.Encryption.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("encryption without keyId must not validate")
	}
	cfg.Encryption.KeyID = "k1"
	cfg.Encryption.KeystorePath = "/etc/keys.json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete encryption config must validate: %v", err)
	}
}
