package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Embedding backend identifiers.
const (
	BackendSimple = "simple"
	BackendONNX   = "onnx"
)

// Backend describes one selectable embedding backend for the settings
// surface.
type Backend struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	Description  string `json:"description"`
	DefaultModel string `json:"default_model"`
	DefaultDims  int    `json:"default_dims"`
}

var backends = []Backend{
	{
		ID:           BackendSimple,
		Label:        "Hashed bag-of-words",
		Description:  "Deterministic token-hash embedding. No model files, works everywhere.",
		DefaultModel: "engram/simple-hash",
		DefaultDims:  256,
	},
	{
		ID:           BackendONNX,
		Label:        "ONNX sentence transformer",
		Description:  "Neural sentence embeddings via a local ONNX model. Requires onnxruntime.",
		DefaultModel: "sentence-transformers/all-MiniLM-L6-v2",
		DefaultDims:  384,
	},
}

// Backends returns the catalog of selectable embedding backends.
func Backends() []Backend {
	out := make([]Backend, len(backends))
	copy(out, backends)
	return out
}

// LookupBackend finds a backend by id.
func LookupBackend(id string) (Backend, bool) {
	for _, b := range backends {
		if b.ID == id {
			return b, true
		}
	}
	return Backend{}, false
}

// Settings is the subset of configuration persisted in the data directory.
// Everything else is resolved at startup from defaults and environment.
type Settings struct {
	EmbeddingBackend string `json:"embedding_backend,omitempty"`
	EmbeddingModel   string `json:"embedding_model,omitempty"`
	EmbeddingDims    int    `json:"embedding_dims,omitempty"`
}

func settingsPath(dataDir string) string {
	return filepath.Join(dataDir, "config.json")
}

// LoadSettings reads the persisted settings file. A missing or corrupt file
// yields empty settings rather than an error, so a damaged file never locks
// the service out.
func LoadSettings(dataDir string) (Settings, error) {
	data, err := os.ReadFile(settingsPath(dataDir))
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, nil
	}
	return s, nil
}

// SaveSettings writes the settings file atomically.
func SaveSettings(dataDir string, s Settings) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	tmp := settingsPath(dataDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp, settingsPath(dataDir)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}

func (s Settings) apply(cfg *Config) {
	if s.EmbeddingBackend != "" {
		cfg.Embedding.Backend = s.EmbeddingBackend
		if b, ok := LookupBackend(s.EmbeddingBackend); ok {
			cfg.Embedding.Model = b.DefaultModel
			cfg.Embedding.Dims = b.DefaultDims
		}
	}
	if s.EmbeddingModel != "" {
		cfg.Embedding.Model = s.EmbeddingModel
	}
	if s.EmbeddingDims > 0 {
		cfg.Embedding.Dims = s.EmbeddingDims
	}
}
