package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDir returns the base sentryd data directory. The
// SENTRYD_DATA_DIR environment variable overrides platform detection.
func DataDir() string {
	if env := os.Getenv("SENTRYD_DATA_DIR"); env != "" {
		return env
	}
	return platformDataDir()
}

// platformDataDir returns the platform-specific data directory.
//
//   - Linux:   $XDG_DATA_HOME/sentryd or ~/.local/share/sentryd
//   - macOS:   ~/Library/Application Support/sentryd
//   - other:   ~/.sentryd
func platformDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "sentryd")
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "sentryd")
		}
		return filepath.Join(home, ".local", "share", "sentryd")
	default:
		return filepath.Join(home, ".sentryd")
	}
}
