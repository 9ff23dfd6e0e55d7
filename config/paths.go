package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir resolves qudi's default data root when the config
// document's global.default_data_dir is empty, re-deriving the algorithm
// from paths.py's get_default_data_dir: an XDG-style per-user data
// directory on Linux/macOS, and %LOCALAPPDATA% on Windows, each suffixed
// with "qudi-data".
func DefaultDataDir() string {
	if runtime.GOOS == "windows" {
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, "qudi-data")
		}
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "qudi-data")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local", "share", "qudi-data")
}

// DefaultConfigDir resolves qudi's default config-file search directory,
// mirroring paths.py's get_default_config_dir.
func DefaultConfigDir() string {
	if runtime.GOOS == "windows" {
		if base := os.Getenv("APPDATA"); base != "" {
			return filepath.Join(base, "qudi")
		}
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "qudi")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "qudi")
}

// DefaultLogDir mirrors paths.py's get_default_log_dir: a "log" directory
// alongside the resolved data dir.
func DefaultLogDir(dataDir string) string {
	return filepath.Join(dataDir, "log")
}
