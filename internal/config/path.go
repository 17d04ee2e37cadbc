package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the default data directory based on the host OS.
// It prefers standard locations when available and falls back to a dotdir
// in the user's home directory.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}

	// XDG (Linux) override
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "nifi-prov")
	}

	// Common Linux/Unix system dir
	if isDir("/var/lib") {
		return "/var/lib/nifi-prov"
	}

	// macOS: ~/Library/Application Support/NiFiProv
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "NiFiProv")
	}

	// Windows: %USERPROFILE%/AppData/Local/NiFiProv
	if isDir(filepath.Join(homeDir, "AppData")) {
		return filepath.Join(homeDir, "AppData", "Local", "NiFiProv")
	}

	// Fallback: ~/.nifi-prov
	return filepath.Join(homeDir, ".nifi-prov")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
