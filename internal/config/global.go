// Package config handles global configuration for muse.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// GlobalConfig represents configuration stored in ~/.config/muse/config.yml.
type GlobalConfig struct {
	Model         string      `yaml:"model,omitempty"`
	Labels        string      `yaml:"labels,omitempty"`
	Index         string      `yaml:"index,omitempty"`
	LibraryDir    string      `yaml:"library_dir,omitempty"`
	DBPath        string      `yaml:"db_path,omitempty"`
	TopK          int         `yaml:"top_k,omitempty"`
	SelfThreshold *float64    `yaml:"self_threshold,omitempty"` // nil when unset; 0 is a valid threshold
	FilterGenre   bool        `yaml:"filter_genre,omitempty"`
	Log           LogConfig   `yaml:"log,omitempty"`
	Build         BuildConfig `yaml:"build,omitempty"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// BuildConfig configures index builds.
type BuildConfig struct {
	Exclude []string `yaml:"exclude,omitempty"`
}

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "muse"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"
)

// Environment variables that override the config file.
const (
	EnvModel      = "MUSE_MODEL"
	EnvLabels     = "MUSE_LABELS"
	EnvIndex      = "MUSE_INDEX"
	EnvLibraryDir = "MUSE_LIBRARY_DIR"
	EnvDB         = "MUSE_DB"
	EnvLogLevel   = "MUSE_LOG_LEVEL"
	EnvTopK       = "MUSE_TOP_K"
)

// globalConfigCache caches the loaded global config.
var globalConfigCache *GlobalConfig

// GlobalConfigPath returns the path to the global config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/muse/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// LoadGlobalConfig loads the global configuration file and applies
// environment overrides. A missing file yields defaults, not an error.
func LoadGlobalConfig() (*GlobalConfig, error) {
	if globalConfigCache != nil {
		return globalConfigCache, nil
	}

	cfg := &GlobalConfig{}
	if path := GlobalConfigPath(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading global config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	globalConfigCache = cfg
	return cfg, nil
}

// ResetGlobalConfigCache clears the cached global config.
// Useful for testing.
func ResetGlobalConfigCache() {
	globalConfigCache = nil
}

func (c *GlobalConfig) applyEnv() error {
	overrides := map[string]*string{
		EnvModel:      &c.Model,
		EnvLabels:     &c.Labels,
		EnvIndex:      &c.Index,
		EnvLibraryDir: &c.LibraryDir,
		EnvDB:         &c.DBPath,
		EnvLogLevel:   &c.Log.Level,
	}
	for name, field := range overrides {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	if v := os.Getenv(EnvTopK); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvTopK, err)
		}
		c.TopK = k
	}
	return nil
}

// Threshold returns the configured self-similarity cutoff, or
// DefaultSelfThreshold when none is set.
func (c *GlobalConfig) Threshold() float64 {
	if c.SelfThreshold == nil {
		return DefaultSelfThreshold
	}
	return *c.SelfThreshold
}

func (c *GlobalConfig) applyDefaults() {
	if c.TopK == 0 {
		c.TopK = DefaultTopK
	}
	if c.SelfThreshold == nil {
		t := DefaultSelfThreshold
		c.SelfThreshold = &t
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	c.Model = ExpandPath(c.Model)
	c.Labels = ExpandPath(c.Labels)
	c.Index = ExpandPath(c.Index)
	c.LibraryDir = ExpandPath(c.LibraryDir)
	c.DBPath = ExpandPath(c.DBPath)
}

// HelpfulConfigMessage explains how to set a default for a missing setting.
func HelpfulConfigMessage(key string) string {
	configPath := GlobalConfigPath()
	return fmt.Sprintf(`Tip: set a default %s in %s:
  mkdir -p %s
  echo '%s: /path/to/value' >> %s`,
		key, configPath,
		filepath.Dir(configPath),
		key, configPath)
}
