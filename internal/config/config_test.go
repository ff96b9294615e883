package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 3215 {
		t.Errorf("server defaults = %s:%d, want 127.0.0.1:3215", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Embedding.Backend != BackendSimple || cfg.Embedding.Dims != 256 {
		t.Errorf("embedding defaults = %s/%d, want simple/256", cfg.Embedding.Backend, cfg.Embedding.Dims)
	}
	if cfg.History.DefaultLimit != 8 {
		t.Errorf("history default = %d, want 8", cfg.History.DefaultLimit)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENGRAM_PORT", "4500")
	t.Setenv("ENGRAM_LOG", "debug")
	t.Setenv("ENGRAM_EMBED_DIMS", "64")
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 4500 {
		t.Errorf("port = %d, want 4500", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %s, want debug", cfg.Log.Level)
	}
	if cfg.Embedding.Dims != 64 {
		t.Errorf("dims = %d, want 64", cfg.Embedding.Dims)
	}
}

func TestEnvOverrideBadIntIgnored(t *testing.T) {
	t.Setenv("ENGRAM_PORT", "not-a-number")
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 3215 {
		t.Errorf("port = %d, want default 3215", cfg.Server.Port)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("ENGRAM_EMBED_BACKEND", "quantum")
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())

	if _, err := Load(); err == nil {
		t.Fatal("Load() with unknown backend should fail")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := Settings{EmbeddingBackend: BackendONNX, EmbeddingModel: "custom/model", EmbeddingDims: 384}
	if err := SaveSettings(dir, want); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	got, err := LoadSettings(dir)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if got != want {
		t.Errorf("LoadSettings() = %+v, want %+v", got, want)
	}
}

func TestSettingsMissingFile(t *testing.T) {
	got, err := LoadSettings(t.TempDir())
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if got != (Settings{}) {
		t.Errorf("LoadSettings() = %+v, want zero settings", got)
	}
}

func TestSettingsCorruptFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadSettings(dir)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if got != (Settings{}) {
		t.Errorf("LoadSettings() = %+v, want zero settings for corrupt file", got)
	}
}

func TestSettingsApplyBackendDefaults(t *testing.T) {
	cfg := defaults()
	Settings{EmbeddingBackend: BackendONNX}.apply(&cfg)
	if cfg.Embedding.Model != "sentence-transformers/all-MiniLM-L6-v2" || cfg.Embedding.Dims != 384 {
		t.Errorf("backend switch = %s/%d, want the backend's default model and dims", cfg.Embedding.Model, cfg.Embedding.Dims)
	}
}

func TestLogLevelMapping(t *testing.T) {
	cfg := defaults()
	cfg.Log.Level = "warn"
	if cfg.LogLevel().String() != "WARN" {
		t.Errorf("LogLevel() = %s, want WARN", cfg.LogLevel())
	}
	cfg.Log.Level = "nonsense"
	if cfg.LogLevel().String() != "INFO" {
		t.Errorf("LogLevel() fallback = %s, want INFO", cfg.LogLevel())
	}
}
