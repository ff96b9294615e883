package store

import (
	"math"

	"github.com/engram-ai/engram/internal/domain"
)

// Cosine returns the cosine similarity between a query vector and a
// candidate vector, clamped to [-1, 1] against float drift. Vectors of
// unequal length cannot be compared, and a zero-magnitude vector has no
// direction; both are reported as embedding errors rather than silently
// scored.
func Cosine(query, candidate []float32) (float32, error) {
	if len(query) != len(candidate) {
		return 0, domain.Embeddingf("dimension mismatch: query has %d dimensions, candidate has %d", len(query), len(candidate))
	}
	if len(query) == 0 {
		return 0, domain.Embeddingf("cannot compare empty vectors")
	}

	var dot, qNorm, cNorm float64
	for i := range query {
		q := float64(query[i])
		c := float64(candidate[i])
		dot += q * c
		qNorm += q * q
		cNorm += c * c
	}
	denom := math.Sqrt(qNorm) * math.Sqrt(cNorm)
	if denom == 0 {
		return 0, domain.Embeddingf("cannot compare zero-magnitude vectors")
	}

	score := dot / denom
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return float32(score), nil
}
