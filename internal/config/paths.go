package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath is the environment variable for explicit config path
	EnvConfigPath = "MIXBRIDGE_CONFIG"
	// ConfigFileName is the default config file name
	ConfigFileName = "mixbridge.yaml"
	// ConfigDirName is the config directory name under XDG
	ConfigDirName = "mixbridge"
)

// SearchPaths lists the config file candidates in priority order:
//  1. $MIXBRIDGE_CONFIG
//  2. ./mixbridge.yaml
//  3. $XDG_CONFIG_HOME/mixbridge/config.yaml
//  4. ~/.config/mixbridge/config.yaml
//  5. /etc/mixbridge/config.yaml
func SearchPaths() []string {
	var paths []string
	if path := os.Getenv(EnvConfigPath); path != "" {
		paths = append(paths, path)
	}
	if abs, err := filepath.Abs(ConfigFileName); err == nil {
		paths = append(paths, abs)
	} else {
		paths = append(paths, ConfigFileName)
	}
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		paths = append(paths, filepath.Join(xdgHome, ConfigDirName, "config.yaml"))
	}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", ConfigDirName, "config.yaml"))
	}
	return append(paths, filepath.Join("/etc", ConfigDirName, "config.yaml"))
}

// FindConfigPath returns the first existing candidate of SearchPaths, or ""
func FindConfigPath() string {
	for _, path := range SearchPaths() {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// DefaultConfigPath returns the preferred location for a new config file
// Prefers XDG config home, falls back to working directory
func DefaultConfigPath() string {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, ConfigDirName, "config.yaml")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", ConfigDirName, "config.yaml")
	}
	return ConfigFileName
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
