package store

import (
	"context"
	"testing"
	"time"

	"github.com/engram-ai/engram/internal/domain"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(t *testing.T, project, summary string, vector []float32) domain.Record {
	t.Helper()
	return domain.NewRecord(project, "goland", "", "", summary, "body of "+summary, nil,
		domain.KindCodeSnippet, domain.Embedding{Model: "test-model", Vector: vector})
}

func TestPersistAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := testRecord(t, "alpha", "first", []float32{1, 0})
	first.CreatedAt = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	second := testRecord(t, "alpha", "second", []float32{0, 1})
	second.CreatedAt = time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	third := testRecord(t, "beta", "third", []float32{1, 1})
	third.CreatedAt = time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)

	for _, r := range []domain.Record{first, second, third} {
		if err := s.Persist(ctx, r); err != nil {
			t.Fatalf("Persist(%s) error = %v", r.Summary, err)
		}
	}

	got, err := s.Recent(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() returned %d summaries, want 2", len(got))
	}
	if got[0].Summary != "second" || got[1].Summary != "first" {
		t.Errorf("Recent() order = [%s, %s], want [second, first]", got[0].Summary, got[1].Summary)
	}

	all, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent(all) error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Recent(all) returned %d summaries, want 3", len(all))
	}
	if all[0].Summary != "third" {
		t.Errorf("Recent(all)[0] = %s, want third", all[0].Summary)
	}
}

func TestRecentLimitAndTimestampTiebreak(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for _, summary := range []string{"a", "b", "c"} {
		r := testRecord(t, "alpha", summary, []float32{1, 0})
		r.CreatedAt = at
		if err := s.Persist(ctx, r); err != nil {
			t.Fatalf("Persist(%s) error = %v", summary, err)
		}
	}

	got, err := s.Recent(ctx, "alpha", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() returned %d summaries, want 2", len(got))
	}

	// Equal timestamps break ties on id, so repeated calls agree.
	again, err := s.Recent(ctx, "alpha", 2)
	if err != nil {
		t.Fatalf("Recent() second call error = %v", err)
	}
	for i := range got {
		if got[i].ID != again[i].ID {
			t.Errorf("Recent() not deterministic at %d: %s vs %s", i, got[i].ID, again[i].ID)
		}
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	near := testRecord(t, "alpha", "near", []float32{1, 0.1})
	far := testRecord(t, "alpha", "far", []float32{0, 1})
	middle := testRecord(t, "alpha", "middle", []float32{1, 1})
	for _, r := range []domain.Record{far, near, middle} {
		if err := s.Persist(ctx, r); err != nil {
			t.Fatalf("Persist(%s) error = %v", r.Summary, err)
		}
	}

	matches, err := s.Search(ctx, SearchQuery{
		Prompt:    "anything",
		Embedding: domain.Embedding{Model: "test-model", Vector: []float32{1, 0}},
		Limit:     3,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("Search() returned %d matches, want 3", len(matches))
	}
	want := []string{"near", "middle", "far"}
	for i, w := range want {
		if matches[i].Record.Summary != w {
			t.Errorf("match[%d] = %s (score %v), want %s", i, matches[i].Record.Summary, matches[i].Score, w)
		}
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("scores not descending: %v then %v", matches[i-1].Score, matches[i].Score)
		}
	}
}

func TestSearchAppliesFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wanted := testRecord(t, "alpha", "wanted", []float32{1, 0})
	wanted.Tags = []string{"bug-fix"}
	other := testRecord(t, "beta", "other project", []float32{1, 0})
	discussion := domain.NewRecord("alpha", "goland", "", "", "chat", "chat body", nil,
		domain.KindDiscussion, domain.Embedding{Model: "test-model", Vector: []float32{1, 0}})

	for _, r := range []domain.Record{wanted, other, discussion} {
		if err := s.Persist(ctx, r); err != nil {
			t.Fatalf("Persist(%s) error = %v", r.Summary, err)
		}
	}

	matches, err := s.Search(ctx, SearchQuery{
		Embedding: domain.Embedding{Model: "test-model", Vector: []float32{1, 0}},
		Limit:     10,
		Filters:   domain.Filters{Project: "alpha", Kind: domain.KindCodeSnippet},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Search() returned %d matches, want 1", len(matches))
	}
	if matches[0].Record.Summary != "wanted" {
		t.Errorf("match = %s, want wanted", matches[0].Record.Summary)
	}

	tagged, err := s.Search(ctx, SearchQuery{
		Embedding: domain.Embedding{Model: "test-model", Vector: []float32{1, 0}},
		Limit:     10,
		Filters:   domain.Filters{Tag: "bug-fix"},
	})
	if err != nil {
		t.Fatalf("Search(tag) error = %v", err)
	}
	if len(tagged) != 1 || tagged[0].Record.Summary != "wanted" {
		t.Errorf("Search(tag) = %d matches, want exactly the tagged record", len(tagged))
	}
}

func TestSearchLimitTruncates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r := testRecord(t, "alpha", "record", []float32{1, float32(i)})
		if err := s.Persist(ctx, r); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
	}

	matches, err := s.Search(ctx, SearchQuery{
		Embedding: domain.Embedding{Model: "test-model", Vector: []float32{1, 0}},
		Limit:     2,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("Search() returned %d matches, want 2", len(matches))
	}
}

func TestSearchRequiresVector(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Search(context.Background(), SearchQuery{Prompt: "no vector", Limit: 5})
	if !domain.IsKind(err, domain.ErrEmbedding) {
		t.Errorf("error kind = %v, want %v", domain.KindOf(err), domain.ErrEmbedding)
	}
}

func TestSearchDimensionMismatchSurfaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := testRecord(t, "alpha", "three dims", []float32{1, 0, 0})
	if err := s.Persist(ctx, r); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	_, err := s.Search(ctx, SearchQuery{
		Embedding: domain.Embedding{Model: "test-model", Vector: []float32{1, 0}},
		Limit:     5,
	})
	if !domain.IsKind(err, domain.ErrEmbedding) {
		t.Errorf("error kind = %v, want %v", domain.KindOf(err), domain.ErrEmbedding)
	}
}

func TestProjectsDistinctSorted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"zeta", "alpha", "zeta", "mid"} {
		if err := s.Persist(ctx, testRecord(t, p, "r", []float32{1})); err != nil {
			t.Fatalf("Persist(%s) error = %v", p, err)
		}
	}

	projects, err := s.Projects(ctx)
	if err != nil {
		t.Fatalf("Projects() error = %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(projects) != len(want) {
		t.Fatalf("Projects() = %v, want %v", projects, want)
	}
	for i := range want {
		if projects[i] != want[i] {
			t.Errorf("Projects()[%d] = %s, want %s", i, projects[i], want[i])
		}
	}
}

func TestCountAndPing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}

	if err := s.Persist(ctx, testRecord(t, "alpha", "r", []float32{1})); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	n, err = s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestPersistRoundTripsRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := domain.NewRecord("alpha", "vscode", "internal/api/http.go", "go", "roundtrip", "full body",
		[]string{"API", "Bug Fix"}, domain.KindFixHistory,
		domain.Embedding{Model: "test-model", Vector: []float32{0.25, -0.5, 0.75}})

	if err := s.Persist(ctx, r); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	matches, err := s.Search(ctx, SearchQuery{
		Embedding: domain.Embedding{Model: "test-model", Vector: []float32{0.25, -0.5, 0.75}},
		Limit:     1,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Search() returned %d matches, want 1", len(matches))
	}

	got := matches[0].Record
	if got.ID != r.ID {
		t.Errorf("ID = %s, want %s", got.ID, r.ID)
	}
	if got.FilePath != r.FilePath || got.Language != r.Language {
		t.Errorf("file context = (%s, %s), want (%s, %s)", got.FilePath, got.Language, r.FilePath, r.Language)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "api" || got.Tags[1] != "bug-fix" {
		t.Errorf("Tags = %v, want [api bug-fix]", got.Tags)
	}
	if got.Kind != domain.KindFixHistory {
		t.Errorf("Kind = %s, want %s", got.Kind, domain.KindFixHistory)
	}
	if got.Embedding.Model != "test-model" || got.Embedding.Dims() != 3 {
		t.Errorf("Embedding = %s/%d dims, want test-model/3", got.Embedding.Model, got.Embedding.Dims())
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, r.CreatedAt)
	}
}

func TestMigrationsApplied(t *testing.T) {
	s := openTestStore(t)
	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations() error = %v", err)
	}
	if len(versions) == 0 || versions[0] != 1 {
		t.Errorf("AppliedMigrations() = %v, want at least [1]", versions)
	}
}
