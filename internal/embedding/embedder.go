// Package embedding provides the pluggable text-to-vector capability used by
// the retrieval service. Backends are selected once at startup; all of them
// produce vectors of a fixed, declared dimensionality per model.
package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/engram-ai/engram/internal/domain"
)

// Embedder converts text into a fixed-length vector for a named model.
// Implementations must reject models they were not initialized for and
// empty/whitespace-only text.
type Embedder interface {
	// Embed returns the embedding vector for text under the given model label.
	Embed(ctx context.Context, model, text string) ([]float32, error)

	// Dims reports the declared dimensionality for the model, if known.
	Dims(model string) (int, bool)
}

// Noop is the proxy-mode placeholder. A process that forwards all storage
// operations to a remote owner never computes vectors itself; the owner is
// the embedding authority, so Noop yields no vector and no error.
type Noop struct{}

func (Noop) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return nil, nil
}

func (Noop) Dims(model string) (int, bool) { return 0, false }

// Batch embeds multiple texts concurrently with bounded parallelism.
// Returns nil for empty input. Order of results matches order of inputs.
func Batch(ctx context.Context, e Embedder, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency so a large batch cannot starve request handling.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// checkModel is shared input validation for concrete backends.
func checkModel(configured, requested string) error {
	if requested != configured {
		return domain.EmbeddingErr(
			fmt.Sprintf("embedder initialized for %q but %q requested", configured, requested), nil)
	}
	return nil
}
