package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultTopK is the default number of recommendations.
	DefaultTopK = 8

	// DefaultSelfThreshold is the default self-similarity cutoff.
	DefaultSelfThreshold = 0.999

	// DBFileName is the telemetry database file name.
	DBFileName = "muse.db"
)

// DataDir returns the muse data directory.
// Respects XDG_DATA_HOME, defaults to ~/.local/share/muse.
func DataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, GlobalConfigDir)
}

// DefaultDBPath returns the default telemetry database path.
func DefaultDBPath() string {
	dir := DataDir()
	if dir == "" {
		return DBFileName
	}
	return filepath.Join(dir, DBFileName)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
