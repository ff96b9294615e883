package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/engram-ai/engram/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Compile-time check that SQLite implements Store.
var _ Store = (*SQLite)(nil)

// SQLite is the embedded storage engine: a single SQLite database holding
// context records with their embedding vectors, searched by brute-force
// cosine similarity. Exactly one process may own it at a time.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the engine database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*SQLite, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, domain.Storagef("creating data directory: %v", err)
		}
		dsn = filepath.Join(dataDir, "engram.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.Storagef("opening database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, domain.Storagef("pinging database: %v", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, domain.Storagef("setting busy timeout: %v", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, domain.Storagef("setting journal mode: %v", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, domain.Storagef("running migrations: %v", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *SQLite) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Persist writes one record and checkpoints the WAL so the row survives an
// abrupt process exit.
func (s *SQLite) Persist(ctx context.Context, r domain.Record) error {
	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return domain.Storagef("encoding tags for %s: %v", r.ID, err)
	}

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contexts (id, project, ide, file_path, language, summary, body, tags, kind, embed_model, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Project, r.IDE, r.FilePath, r.Language, r.Summary, r.Body,
		string(tags), string(r.Kind), r.Embedding.Model, encodeFloat32s(r.Embedding.Vector),
		createdAt.UnixNano(),
	)
	if err != nil {
		return domain.Storagef("inserting record %s: %v", r.ID, err)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return domain.Storagef("checkpointing after insert: %v", err)
	}
	return nil
}

// Search scans every stored vector, scores it against the query vector, and
// returns matches sorted by descending similarity. Records that fail a
// metadata filter are skipped before scoring.
func (s *SQLite) Search(ctx context.Context, q SearchQuery) ([]Match, error) {
	if q.Embedding.Dims() == 0 {
		return nil, domain.Embeddingf("search against the embedded engine requires a query vector")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` FROM contexts`)
	if err != nil {
		return nil, domain.Storagef("querying contexts: %v", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if !q.Filters.Matches(r) {
			continue
		}
		score, err := Cosine(q.Embedding.Vector, r.Embedding.Vector)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Record: r, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storagef("iterating contexts: %v", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Recent returns summaries newest first, with the record id as a
// deterministic tiebreak for equal timestamps.
func (s *SQLite) Recent(ctx context.Context, project string, limit int) ([]domain.Summary, error) {
	if limit <= 0 {
		limit = 1
	}

	query := selectColumns + ` FROM contexts`
	args := []any{}
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Storagef("querying recent contexts: %v", err)
	}
	defer rows.Close()

	var summaries []domain.Summary
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, r.AsSummary())
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storagef("iterating recent contexts: %v", err)
	}
	return summaries, nil
}

// Projects returns the distinct project identifiers in lexicographic order.
func (s *SQLite) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT project FROM contexts ORDER BY project ASC`)
	if err != nil {
		return nil, domain.Storagef("querying projects: %v", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, domain.Storagef("scanning project: %v", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storagef("iterating projects: %v", err)
	}
	return projects, nil
}

// Count returns the total number of stored records.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contexts`).Scan(&n); err != nil {
		return 0, domain.Storagef("counting contexts: %v", err)
	}
	return n, nil
}

// Ping verifies the engine is responsive and flushes the WAL.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.Storagef("pinging database: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return domain.Storagef("checkpointing: %v", err)
	}
	return nil
}

const selectColumns = `SELECT id, project, ide, file_path, language, summary, body, tags, kind, embed_model, embedding, created_at`

func scanRecord(rows *sql.Rows) (domain.Record, error) {
	var (
		r         domain.Record
		kind      string
		tagsJSON  string
		blob      []byte
		createdAt int64
	)
	if err := rows.Scan(&r.ID, &r.Project, &r.IDE, &r.FilePath, &r.Language,
		&r.Summary, &r.Body, &tagsJSON, &kind, &r.Embedding.Model, &blob, &createdAt); err != nil {
		return domain.Record{}, domain.Storagef("scanning record: %v", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
		return domain.Record{}, domain.Storagef("decoding tags for %s: %v", r.ID, err)
	}
	vector, err := decodeFloat32s(blob)
	if err != nil {
		return domain.Record{}, domain.Storagef("decoding embedding for %s: %v", r.ID, err)
	}
	r.Kind = domain.Kind(kind)
	r.Embedding.Vector = vector
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	return r, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
