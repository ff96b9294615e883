// Package service is the retrieval orchestrator: it validates incoming
// payloads, obtains embeddings, and delegates persistence and search to the
// active storage backend. The same orchestrator runs in both the owning
// process (embedded engine, real embedder) and proxy processes (remote
// store, no-op embedder).
package service

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/engram-ai/engram/internal/config"
	"github.com/engram-ai/engram/internal/domain"
	"github.com/engram-ai/engram/internal/embedding"
	"github.com/engram-ai/engram/internal/store"
)

// Search limits per request.
const (
	MaxSearchLimit  = 32
	MaxHistoryLimit = 50
)

// Handle bundles the embedder, store, and configuration that together define
// one operating mode. Reconfiguration replaces the whole handle at once so
// no request ever observes a half-swapped combination.
type Handle struct {
	Embedder embedding.Embedder
	Store    store.Store
	Config   config.Config
}

// Service orchestrates ingest and retrieval over the current handle.
type Service struct {
	handle atomic.Pointer[Handle]
}

// New returns a service operating over the given handle.
func New(h Handle) *Service {
	s := &Service{}
	s.handle.Store(&h)
	return s
}

// Swap atomically replaces the (embedder, store, config) triple. In-flight
// requests finish against the handle they started with.
func (s *Service) Swap(h Handle) {
	s.handle.Store(&h)
}

// Current returns a snapshot of the active handle.
func (s *Service) Current() Handle {
	return *s.handle.Load()
}

// IngestPayload is one context item to remember. ID and CreatedAt are
// normally left blank; proxied writes fill them so the owner stores exactly
// the record the client reported.
type IngestPayload struct {
	ID        string    `json:"id,omitempty"`
	Project   string    `json:"project"`
	IDE       string    `json:"ide"`
	FilePath  string    `json:"file_path,omitempty"`
	Language  string    `json:"language,omitempty"`
	Summary   string    `json:"summary"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// SearchPayload is a retrieval request. Embedding optionally carries a
// precomputed query vector; when absent, the serving process embeds the
// query itself (if it can).
type SearchPayload struct {
	Query     string         `json:"query"`
	Limit     int            `json:"limit,omitempty"`
	Filters   domain.Filters `json:"filters,omitzero"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// Result is one search hit. The stored embedding is stripped before the
// record leaves the service.
type Result struct {
	domain.Record
	Score float32 `json:"score"`
}

// SearchResponse carries the ranked hits for one query.
type SearchResponse struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// HealthStatus reports backend liveness. Failures are data, not errors.
type HealthStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Ingest validates the payload, embeds its text, and persists exactly one
// immutable record, returning the summary projection.
func (s *Service) Ingest(ctx context.Context, p IngestPayload) (domain.Summary, error) {
	h := s.Current()

	rec, err := s.buildRecord(ctx, h, p)
	if err != nil {
		return domain.Summary{}, err
	}
	if err := h.Store.Persist(ctx, rec); err != nil {
		return domain.Summary{}, err
	}
	return rec.AsSummary(), nil
}

// IngestBatch validates every payload up front, embeds them concurrently,
// and persists sequentially. Either all payloads are valid or nothing is
// written.
func (s *Service) IngestBatch(ctx context.Context, payloads []IngestPayload) ([]domain.Summary, error) {
	if len(payloads) == 0 {
		return nil, domain.Validationf("no payloads supplied")
	}
	h := s.Current()

	records := make([]domain.Record, len(payloads))
	texts := make([]string, len(payloads))
	for i, p := range payloads {
		if err := validatePayload(p); err != nil {
			return nil, err
		}
		texts[i] = embedText(p.Summary, p.Body)
	}

	vectors, err := embedding.Batch(ctx, h.Embedder, h.Config.Embedding.Model, texts)
	if err != nil {
		return nil, err
	}

	for i, p := range payloads {
		records[i] = assembleRecord(p, vectorEmbedding(h, vectors[i]))
	}

	summaries := make([]domain.Summary, 0, len(records))
	for _, rec := range records {
		if err := h.Store.Persist(ctx, rec); err != nil {
			return summaries, err
		}
		summaries = append(summaries, rec.AsSummary())
	}
	return summaries, nil
}

// Search embeds the prompt (when this process holds an embedder) and returns
// matches ranked by descending similarity.
func (s *Service) Search(ctx context.Context, p SearchPayload) (SearchResponse, error) {
	h := s.Current()

	prompt := strings.TrimSpace(p.Query)
	if prompt == "" {
		return SearchResponse{}, domain.Validationf("search query must not be empty")
	}

	limit := p.Limit
	if limit == 0 {
		limit = h.Config.History.DefaultLimit
	}
	limit = clamp(limit, 1, MaxSearchLimit)

	vector := p.Embedding
	if len(vector) == 0 {
		var err error
		vector, err = h.Embedder.Embed(ctx, h.Config.Embedding.Model, prompt)
		if err != nil {
			return SearchResponse{}, err
		}
	}

	matches, err := h.Store.Search(ctx, store.SearchQuery{
		Prompt:    prompt,
		Embedding: vectorEmbedding(h, vector),
		Limit:     limit,
		Filters:   p.Filters,
	})
	if err != nil {
		return SearchResponse{}, err
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		rec := m.Record
		rec.Embedding = domain.Embedding{}
		results = append(results, Result{Record: rec, Score: m.Score})
	}
	return SearchResponse{Query: prompt, Results: results}, nil
}

// History returns the most recent summaries, newest first.
func (s *Service) History(ctx context.Context, project string, limit int) ([]domain.Summary, error) {
	h := s.Current()

	if limit == 0 {
		limit = h.Config.History.DefaultLimit
	}
	limit = clamp(limit, 1, MaxHistoryLimit)

	return h.Store.Recent(ctx, domain.SanitizeProject(project), limit)
}

// Projects returns the distinct project identifiers.
func (s *Service) Projects(ctx context.Context) ([]string, error) {
	h := s.Current()
	return h.Store.Projects(ctx)
}

// Health probes the active store. It never fails; an unreachable or broken
// backend is reported in the status itself.
func (s *Service) Health(ctx context.Context) HealthStatus {
	h := s.Current()
	if err := h.Store.Ping(ctx); err != nil {
		return HealthStatus{OK: false, Message: err.Error()}
	}
	return HealthStatus{OK: true}
}

// Count reports the number of stored records, when the active store can
// count them.
func (s *Service) Count(ctx context.Context) (int, bool, error) {
	h := s.Current()
	counter, ok := h.Store.(interface {
		Count(ctx context.Context) (int, error)
	})
	if !ok {
		return 0, false, nil
	}
	n, err := counter.Count(ctx)
	return n, true, err
}

func (s *Service) buildRecord(ctx context.Context, h Handle, p IngestPayload) (domain.Record, error) {
	if err := validatePayload(p); err != nil {
		return domain.Record{}, err
	}

	vector, err := h.Embedder.Embed(ctx, h.Config.Embedding.Model, embedText(p.Summary, p.Body))
	if err != nil {
		return domain.Record{}, err
	}
	return assembleRecord(p, vectorEmbedding(h, vector)), nil
}

func validatePayload(p IngestPayload) error {
	if domain.SanitizeProject(p.Project) == "" {
		return domain.Validationf("project must not be empty")
	}
	if domain.SanitizeSingleLine(p.IDE) == "" {
		return domain.Validationf("ide must not be empty")
	}

	summary := strings.TrimSpace(p.Summary)
	if summary == "" {
		return domain.Validationf("summary must not be empty")
	}
	if utf8.RuneCountInString(summary) > domain.MaxSummaryLen {
		return domain.Limitf("summary exceeds %d characters", domain.MaxSummaryLen)
	}

	body := strings.TrimSpace(p.Body)
	if body == "" {
		return domain.Validationf("body must not be empty")
	}
	if utf8.RuneCountInString(body) > domain.MaxBodyLen {
		return domain.Limitf("body exceeds %d characters", domain.MaxBodyLen)
	}

	if len(p.Tags) > domain.MaxTags {
		return domain.Limitf("at most %d tags are allowed, got %d", domain.MaxTags, len(p.Tags))
	}

	kind := domain.Kind(p.Kind)
	if kind.IsOther() && kind.Label() == "" {
		return domain.Limitf("custom kind requires a non-empty label")
	}
	if !kind.Valid() {
		return domain.Validationf("unknown kind %q", p.Kind)
	}
	return nil
}

func assembleRecord(p IngestPayload, emb domain.Embedding) domain.Record {
	rec := domain.NewRecord(p.Project, p.IDE, p.FilePath, p.Language,
		strings.TrimSpace(p.Summary), strings.TrimSpace(p.Body), p.Tags, domain.Kind(p.Kind), emb)

	// Proxied writes carry the identity the client already reported.
	if _, err := uuid.Parse(p.ID); err == nil {
		rec.ID = p.ID
	}
	if !p.CreatedAt.IsZero() {
		rec.CreatedAt = p.CreatedAt.UTC()
	}
	return rec
}

func embedText(summary, body string) string {
	return strings.TrimSpace(strings.TrimSpace(summary) + "\n" + strings.TrimSpace(body))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func vectorEmbedding(h Handle, vector []float32) domain.Embedding {
	if len(vector) == 0 {
		return domain.Embedding{}
	}
	return domain.Embedding{Model: h.Config.Embedding.Model, Vector: vector}
}
