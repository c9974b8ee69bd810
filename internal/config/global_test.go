package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGlobalConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := GlobalConfigPath(), "/custom/config/muse/config.yml"; got != want {
		t.Errorf("GlobalConfigPath() = %q, want %q", got, want)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get home directory")
	}
	if got, want := GlobalConfigPath(), filepath.Join(home, ".config", "muse", "config.yml"); got != want {
		t.Errorf("GlobalConfigPath() = %q, want %q", got, want)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvModel, EnvLabels, EnvIndex, EnvLibraryDir, EnvDB, EnvLogLevel, EnvTopK} {
		t.Setenv(name, "")
	}
}

func TestLoadGlobalConfig_NotFound(t *testing.T) {
	ResetGlobalConfigCache()
	defer ResetGlobalConfigCache()
	clearEnv(t)

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))

	cfg, err := LoadGlobalConfig()
	if err != nil {
		t.Fatalf("LoadGlobalConfig() error = %v", err)
	}
	if cfg.TopK != DefaultTopK {
		t.Errorf("TopK = %d, want %d", cfg.TopK, DefaultTopK)
	}
	if cfg.Threshold() != DefaultSelfThreshold {
		t.Errorf("Threshold() = %v, want %v", cfg.Threshold(), DefaultSelfThreshold)
	}
	if want := filepath.Join(tmpDir, "data", "muse", DBFileName); cfg.DBPath != want {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, want)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoadGlobalConfig_FileAndEnv(t *testing.T) {
	ResetGlobalConfigCache()
	defer ResetGlobalConfigCache()
	clearEnv(t)

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	configDir := filepath.Join(tmpDir, GlobalConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatal(err)
	}
	content := `model: /models/genre.yml
index: /data/embeddings.gob
top_k: 5
filter_genre: true
log:
  level: debug
  format: json
build:
  exclude:
    - "**/samples/**"
`
	if err := os.WriteFile(filepath.Join(configDir, GlobalConfigFile), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvIndex, "/override/index.gob")

	cfg, err := LoadGlobalConfig()
	if err != nil {
		t.Fatalf("LoadGlobalConfig() error = %v", err)
	}
	if cfg.Model != "/models/genre.yml" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Index != "/override/index.gob" {
		t.Errorf("Index = %q, want env override", cfg.Index)
	}
	if cfg.TopK != 5 || !cfg.FilterGenre {
		t.Errorf("TopK/FilterGenre = %d/%v", cfg.TopK, cfg.FilterGenre)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if len(cfg.Build.Exclude) != 1 {
		t.Errorf("Exclude = %v", cfg.Build.Exclude)
	}

	// Cached on second call.
	again, _ := LoadGlobalConfig()
	if again != cfg {
		t.Error("expected cached config")
	}
}

func TestLoadGlobalConfig_BadTopKEnv(t *testing.T) {
	ResetGlobalConfigCache()
	defer ResetGlobalConfigCache()
	clearEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(EnvTopK, "many")

	if _, err := LoadGlobalConfig(); err == nil {
		t.Error("expected error for non-numeric MUSE_TOP_K")
	}
}

func TestLoadGlobalConfig_SelfThreshold(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    float64
	}{
		{"unset", "top_k: 3\n", DefaultSelfThreshold},
		{"zero", "self_threshold: 0\n", 0},
		{"explicit", "self_threshold: 0.95\n", 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetGlobalConfigCache()
			defer ResetGlobalConfigCache()
			clearEnv(t)

			tmpDir := t.TempDir()
			t.Setenv("XDG_CONFIG_HOME", tmpDir)
			configDir := filepath.Join(tmpDir, GlobalConfigDir)
			if err := os.MkdirAll(configDir, 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(configDir, GlobalConfigFile), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := LoadGlobalConfig()
			if err != nil {
				t.Fatalf("LoadGlobalConfig() error = %v", err)
			}
			if got := cfg.Threshold(); got != tt.want {
				t.Errorf("Threshold() = %v, want %v", got, tt.want)
			}
		})
	}
}
