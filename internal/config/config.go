// Package config resolves the service configuration from defaults, the
// persisted settings file in the data directory, and ENGRAM_* environment
// variables, in that order of precedence (environment wins).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	History   HistoryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host             string
	Port             int
	SSEKeepAliveSecs int
}

type StorageConfig struct {
	DataDir string
}

type EmbeddingConfig struct {
	Backend string
	Model   string
	Dims    int
}

type HistoryConfig struct {
	DefaultLimit int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             3215,
			SSEKeepAliveSecs: 30,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Embedding: EmbeddingConfig{
			Backend: BackendSimple,
			Model:   "engram/simple-hash",
			Dims:    256,
		},
		History: HistoryConfig{
			DefaultLimit: 8,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "engram-data"
	}
	return filepath.Join(dir, "engram")
}

// Load resolves the effective configuration. The settings file is read from
// the data directory, which itself may be moved with ENGRAM_DATA_DIR, so the
// data dir override is applied before the file is read and the remaining
// environment overrides after.
func Load() (Config, error) {
	cfg := defaults()

	if dir := os.Getenv("ENGRAM_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}

	settings, err := LoadSettings(cfg.Storage.DataDir)
	if err != nil {
		return Config{}, fmt.Errorf("loading settings: %w", err)
	}
	settings.apply(&cfg)

	applyEnvOverrides(&cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Server.Port)
	}
	if _, ok := LookupBackend(cfg.Embedding.Backend); !ok {
		return Config{}, fmt.Errorf("unknown embedding backend %q", cfg.Embedding.Backend)
	}

	return cfg, nil
}

// Addr returns the listen address, e.g. "127.0.0.1:3215".
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BaseURL returns the loopback URL clients use to reach the service.
func (c Config) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}

// LogLevel maps the configured level string onto slog levels, defaulting to
// info for anything unrecognized.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
