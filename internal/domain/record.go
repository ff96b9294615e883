package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Size guard rails for a single record.
const (
	// MaxTags caps tag arrays to keep records compact for storage and filtering.
	MaxTags = 12
	// MaxSummaryLen bounds the one-line description of a record.
	MaxSummaryLen = 640
	// MaxBodyLen bounds the full text or code body of a record.
	MaxBodyLen = 16000
)

// Kind classifies a context record.
type Kind string

const (
	KindCodeSnippet    Kind = "code-snippet"
	KindFixHistory     Kind = "fix-history"
	KindProjectSummary Kind = "project-summary"
	KindDiscussion     Kind = "discussion"
	KindToolLog        Kind = "tool-log"

	// otherPrefix marks custom kinds, e.g. "other:benchmark-note".
	otherPrefix = "other:"
)

// OtherKind builds a custom kind carrying a caller-supplied label.
func OtherKind(label string) Kind {
	return Kind(otherPrefix + strings.TrimSpace(label))
}

// IsOther reports whether k is a custom kind.
func (k Kind) IsOther() bool {
	return strings.HasPrefix(string(k), otherPrefix)
}

// Label returns the custom label for "other" kinds, or the kind name itself.
func (k Kind) Label() string {
	if k.IsOther() {
		return strings.TrimPrefix(string(k), otherPrefix)
	}
	return string(k)
}

// Valid reports whether k is one of the fixed kinds or a labelled custom kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCodeSnippet, KindFixHistory, KindProjectSummary, KindDiscussion, KindToolLog:
		return true
	}
	return k.IsOther() && k.Label() != ""
}

// Embedding is a model-tagged vector. Two embeddings are only comparable when
// the same model label produced both.
type Embedding struct {
	Model  string    `json:"model"`
	Vector []float32 `json:"vector"`
}

// Dims returns the vector length.
func (e Embedding) Dims() int { return len(e.Vector) }

// Record is one stored unit of memory. Immutable after construction: its only
// transition is creation -> persisted -> matched by later queries.
type Record struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	IDE       string    `json:"ide"`
	FilePath  string    `json:"file_path,omitempty"`
	Language  string    `json:"language,omitempty"`
	Summary   string    `json:"summary"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags"`
	Kind      Kind      `json:"kind"`
	Embedding Embedding `json:"embedding,omitzero"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRecord constructs a record with a fresh id and the current timestamp,
// sanitizing project/ide to single lines and normalizing tags.
func NewRecord(project, ide, filePath, language, summary, body string, tags []string, kind Kind, embedding Embedding) Record {
	return Record{
		ID:        uuid.New().String(),
		Project:   SanitizeProject(project),
		IDE:       SanitizeSingleLine(ide),
		FilePath:  filePath,
		Language:  language,
		Summary:   summary,
		Body:      body,
		Tags:      NormalizeTags(tags),
		Kind:      kind,
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
	}
}

// AsSummary projects the record for history listings, dropping body and embedding.
func (r Record) AsSummary() Summary {
	return Summary{
		ID:        r.ID,
		Project:   r.Project,
		Summary:   r.Summary,
		Kind:      r.Kind,
		Tags:      r.Tags,
		CreatedAt: r.CreatedAt,
	}
}

// Summary is the read-only projection of a Record used for listings.
type Summary struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Summary   string    `json:"summary"`
	Kind      Kind      `json:"kind"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// Filters narrows search results. Present predicates combine with AND
// semantics; a record matches when every present predicate matches exactly.
type Filters struct {
	Project string `json:"project,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	Tag     string `json:"tag,omitempty"`
	IDE     string `json:"ide,omitempty"`
}

// Matches reports whether r satisfies every present filter predicate.
func (f Filters) Matches(r Record) bool {
	if f.Project != "" && r.Project != f.Project {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range r.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.IDE != "" && r.IDE != f.IDE {
		return false
	}
	return true
}

// SanitizeSingleLine keeps only the first line of input, trimmed.
func SanitizeSingleLine(input string) string {
	line, _, _ := strings.Cut(input, "\n")
	return strings.TrimSpace(strings.TrimSuffix(line, "\r"))
}

// SanitizeProject sanitizes to a single line and replaces path separators so
// project names are safe as filter keys and file path fragments.
func SanitizeProject(input string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		}
		return r
	}, SanitizeSingleLine(input))
}

// NormalizeTags lower-cases tags, collapses internal whitespace to hyphens,
// drops empties and duplicates, and caps the result at MaxTags entries.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		normalized := strings.Join(strings.Fields(strings.ToLower(tag)), "-")
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}
