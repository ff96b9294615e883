// Package store defines the storage contract protected by the process
// coordination layer, with two implementations: an embedded SQLite engine
// owned exclusively by one process, and a remote proxy that forwards every
// call to whichever process currently owns the engine.
package store

import (
	"context"

	"github.com/engram-ai/engram/internal/domain"
)

// SearchQuery carries everything a backend needs to run a similarity search.
// The prompt always travels with the query; the vector is present only when
// the calling process embeds locally. The embedded engine scores with the
// vector; the remote proxy forwards the prompt and lets the owner - the
// single embedding authority - produce the vector.
type SearchQuery struct {
	Prompt    string
	Embedding domain.Embedding
	Limit     int
	Filters   domain.Filters
}

// Match pairs a stored record with its similarity score against a query.
type Match struct {
	Record domain.Record
	Score  float32
}

// Store is the contract satisfied by both the embedded engine and the
// remote proxy, so the retrieval service is identical regardless of which
// process owns the data.
type Store interface {
	// Persist durably writes one record. The write is flushed before return.
	Persist(ctx context.Context, record domain.Record) error

	// Search returns up to query.Limit matches sorted by descending score.
	Search(ctx context.Context, query SearchQuery) ([]Match, error)

	// Recent returns the most recent summaries, newest first, optionally
	// restricted to one project (empty string means all).
	Recent(ctx context.Context, project string, limit int) ([]domain.Summary, error)

	// Projects returns the distinct set of project identifiers,
	// lexicographically sorted.
	Projects(ctx context.Context) ([]string, error)

	// Ping probes liveness, forcing a flush on the embedded engine.
	Ping(ctx context.Context) error
}
