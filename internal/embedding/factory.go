package embedding

import (
	"path/filepath"

	"github.com/engram-ai/engram/internal/config"
	"github.com/engram-ai/engram/internal/domain"
)

// FromConfig builds the embedder the configuration selects. ONNX model
// files are expected under <data dir>/models.
func FromConfig(cfg config.Config) (Embedder, error) {
	switch cfg.Embedding.Backend {
	case config.BackendSimple:
		return NewSimple(cfg.Embedding.Model, cfg.Embedding.Dims)
	case config.BackendONNX:
		modelDir := filepath.Join(cfg.Storage.DataDir, "models")
		return NewONNX(ONNXConfig{
			Model:         cfg.Embedding.Model,
			ModelPath:     filepath.Join(modelDir, "model.onnx"),
			TokenizerPath: filepath.Join(modelDir, "tokenizer.json"),
			Dims:          cfg.Embedding.Dims,
		})
	default:
		return nil, domain.Validationf("unknown embedding backend %q", cfg.Embedding.Backend)
	}
}
