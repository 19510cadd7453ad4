package config

import (
	"os"
	"path/filepath"
	"strings"
)

// UserDir returns ~/.sidebar, or "" when no home directory is known.
func UserDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to HOME env var if UserHomeDir fails
		home = os.Getenv("HOME")
	}
	if strings.TrimSpace(home) == "" {
		return ""
	}
	return filepath.Join(home, dirName)
}

// CachePath returns the sqlite cache path with any leading ~ expanded.
func (c *Config) CachePath() string {
	return expandHomeDir(c.Cache.Path)
}

// LogDir returns the log directory with any leading ~ expanded. Empty
// means log to stderr.
func (c *Config) LogDir() string {
	return expandHomeDir(c.Logging.Dir)
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
