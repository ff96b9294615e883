package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/engram-ai/engram/internal/domain"
)

const (
	// DefaultSimpleModel is the model label for the built-in hash embedder.
	DefaultSimpleModel = "engram/simple-hash"

	// DefaultSimpleDims is the default bucket count for Simple.
	DefaultSimpleDims = 256

	minDims = 8
	maxDims = 4096
)

// Simple is a deterministic embedder that hashes tokens into a fixed number
// of buckets and L2-normalizes the counts. It is not semantic, but it is
// reproducible and needs no model download, which keeps the whole system
// usable and testable offline.
type Simple struct {
	model string
	dims  int
}

// NewSimple builds a hash embedder for the given model label. dims is
// clamped to [8, 4096]; zero or negative dims is a validation error.
func NewSimple(model string, dims int) (*Simple, error) {
	if dims <= 0 {
		return nil, domain.Validationf("embedding dimensions must be greater than zero")
	}
	if dims < minDims {
		dims = minDims
	}
	if dims > maxDims {
		dims = maxDims
	}
	return &Simple{model: model, dims: dims}, nil
}

func (s *Simple) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if err := checkModel(s.model, model); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.Validationf("text to embed cannot be empty")
	}

	vector := make([]float32, s.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vector, nil
	}

	for _, token := range tokens {
		idx := xxhash.Sum64String(token) % uint64(s.dims)
		vector[idx]++
	}

	// L2 normalize so cosine scores stay in [-1, 1].
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if norm := math.Sqrt(sum); norm > 0 {
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
	}
	return vector, nil
}

func (s *Simple) Dims(model string) (int, bool) {
	if model != s.model {
		return 0, false
	}
	return s.dims, true
}

// tokenize splits on whitespace and punctuation, dropping empty tokens.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}
