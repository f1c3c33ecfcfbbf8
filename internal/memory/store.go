// Package memory provides the repository-scoped memory ledger for Xylem
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// Record status values. A record starts active and only ever moves to
// invalid or superseded; both are terminal.
const (
	StatusActive     = "active"
	StatusInvalid    = "invalid"
	StatusSuperseded = "superseded"
)

// DefaultRecentLimit caps GetRecent when the caller passes no limit.
const DefaultRecentLimit = 50

// Citation anchors a fact to a location in source code.
type Citation struct {
	ID                 string    `json:"id,omitempty"`
	Path               string    `json:"path"`
	StartLine          int       `json:"line_start"`
	EndLine            int       `json:"line_end"`
	Revision           string    `json:"revision,omitempty"`
	ContentFingerprint string    `json:"content_fingerprint,omitempty"`
	CreatedAt          time.Time `json:"created_at,omitempty"`
}

// Record is a stored fact plus its provenance and lifecycle metadata.
// The store exclusively owns Status, SupersededBy, VerificationCount and
// RefreshedAt; callers request transitions and never write these directly.
type Record struct {
	ID                 string     `json:"id"`
	Repository         string     `json:"repository"`
	Subject            string     `json:"subject"`
	Fact               string     `json:"fact"`
	Citations          []Citation `json:"citations"`
	Reason             string     `json:"reason,omitempty"`
	Status             string     `json:"status"`
	SupersededBy       string     `json:"superseded_by,omitempty"`
	VerificationCount  int        `json:"verification_count"`
	CreatedBy          string     `json:"created_by,omitempty"`
	VerifiedBy         string     `json:"verified_by,omitempty"`
	InvalidatedBy      string     `json:"invalidated_by,omitempty"`
	InvalidationReason string     `json:"invalidation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	RefreshedAt        time.Time  `json:"refreshed_at"`
}

// Stats summarizes a repository's ledger across every status.
type Stats struct {
	Repository       string     `json:"repository"`
	ActiveCount      int        `json:"active_count"`
	SupersededCount  int        `json:"superseded_count"`
	InvalidCount     int        `json:"invalid_count"`
	AvgVerifications float64    `json:"avg_verifications"`
	FirstMemoryAt    *time.Time `json:"first_memory_at,omitempty"`
	LatestMemoryAt   *time.Time `json:"latest_memory_at,omitempty"`
}

// Store provides the memory ledger using SQLite
type Store struct {
	db      *sql.DB
	dataDir string

	idMu      sync.Mutex
	idEntropy *rand.Rand
}

// GetDB returns the underlying SQL database handle
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// NewStore creates a new memory store
func NewStore() (*Store, error) {
	dataDir := os.Getenv("XYLEM_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".xylem")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ledger.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:        db,
		dataDir:   dataDir,
		idEntropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		repository TEXT NOT NULL,
		subject TEXT NOT NULL,
		fact TEXT NOT NULL,
		reason TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		superseded_by TEXT,
		verification_count INTEGER NOT NULL DEFAULT 0,
		created_by TEXT,
		verified_by TEXT,
		invalidated_by TEXT,
		invalidation_reason TEXT,
		created_at DATETIME NOT NULL,
		refreshed_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_repo_status_refreshed
		ON memories(repository, status, refreshed_at DESC);

	CREATE TABLE IF NOT EXISTS citations (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		file_path TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		revision TEXT,
		content_fingerprint TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_citations_memory_id ON citations(memory_id);
	CREATE INDEX IF NOT EXISTS idx_citations_file_path ON citations(file_path);

	CREATE TABLE IF NOT EXISTS usage_events (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		agent_id TEXT,
		session_id TEXT,
		applied_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_events_memory_id ON usage_events(memory_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// generateID returns a new ULID: sortable, opaque to callers.
func (s *Store) generateID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.idEntropy).String()
}

// validateCitations enforces the creation invariant: at least one citation,
// every citation with a path and a sane line range.
func validateCitations(citations []Citation) error {
	if len(citations) == 0 {
		return fmt.Errorf("%w: at least one citation is required", ErrInvalidCitation)
	}
	for i, c := range citations {
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("%w: citation %d has no path", ErrInvalidCitation, i)
		}
		if c.StartLine < 1 {
			return fmt.Errorf("%w: citation %d line_start must be >= 1", ErrInvalidCitation, i)
		}
		if c.EndLine < c.StartLine {
			return fmt.Errorf("%w: citation %d line_end before line_start", ErrInvalidCitation, i)
		}
	}
	return nil
}

// Create stores a new active record. Validation happens before anything is
// written: a failed create leaves no partial record behind.
func (s *Store) Create(ctx context.Context, repository, subject, fact string, citations []Citation, reason, createdBy string) (*Record, error) {
	if strings.TrimSpace(repository) == "" {
		return nil, fmt.Errorf("repository is required")
	}
	if strings.TrimSpace(fact) == "" {
		return nil, fmt.Errorf("fact is required")
	}
	if err := validateCitations(citations); err != nil {
		return nil, err
	}

	id := s.generateID()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, repository, subject, fact, reason, status, verification_count, created_by, created_at, refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, id, repository, subject, fact, reason, StatusActive, createdBy, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert memory: %w", err)
	}

	stored := make([]Citation, len(citations))
	for i, c := range citations {
		cit := c
		cit.ID = s.generateID()
		cit.CreatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO citations (id, memory_id, position, file_path, start_line, end_line, revision, content_fingerprint, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, cit.ID, id, i, cit.Path, cit.StartLine, cit.EndLine, cit.Revision, cit.ContentFingerprint, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert citation: %w", err)
		}
		stored[i] = cit
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &Record{
		ID:                id,
		Repository:        repository,
		Subject:           subject,
		Fact:              fact,
		Citations:         stored,
		Reason:            reason,
		Status:            StatusActive,
		VerificationCount: 0,
		CreatedBy:         createdBy,
		CreatedAt:         now,
		RefreshedAt:       now,
	}, nil
}

const recordColumns = `id, repository, subject, fact, reason, status, superseded_by,
	verification_count, created_by, verified_by, invalidated_by, invalidation_reason,
	created_at, refreshed_at`

// Get returns a single record by id, or nil if not found. Terminal records
// remain readable for audit.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Citations, err = s.getCitations(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRecent returns active records for a repository ordered by refreshed_at
// descending. Terminal records are excluded.
func (s *Store) GetRecent(ctx context.Context, repository string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM memories
		WHERE repository = ? AND status = ?
		ORDER BY refreshed_at DESC, id DESC
		LIMIT ?
	`, repository, StatusActive, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()
	return s.collectRecords(ctx, rows)
}

// SearchByPath returns active records with at least one citation whose stored
// path contains the given path as a substring. The match is case-sensitive
// and deliberately loose: "store.go" matches "internal/memory/store.go".
func (s *Store) SearchByPath(ctx context.Context, repository, path string) ([]*Record, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT m.id, m.repository, m.subject, m.fact, m.reason, m.status, m.superseded_by,
			m.verification_count, m.created_by, m.verified_by, m.invalidated_by, m.invalidation_reason,
			m.created_at, m.refreshed_at
		FROM memories m
		JOIN citations c ON c.memory_id = m.id
		WHERE m.repository = ? AND m.status = ? AND INSTR(c.file_path, ?) > 0
		ORDER BY m.refreshed_at DESC, m.id DESC
	`, repository, StatusActive, path)
	if err != nil {
		return nil, fmt.Errorf("failed to search by path: %w", err)
	}
	defer rows.Close()
	return s.collectRecords(ctx, rows)
}

// Stats aggregates the ledger for a repository across every status. A
// repository with no records returns zero counts and nil timestamps.
func (s *Store) Stats(ctx context.Context, repository string) (*Stats, error) {
	stats := &Stats{Repository: repository}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM memories WHERE repository = ? GROUP BY status
	`, repository)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		switch status {
		case StatusActive:
			stats.ActiveCount = count
		case StatusSuperseded:
			stats.SupersededCount = count
		case StatusInvalid:
			stats.InvalidCount = count
		}
	}

	var avg sql.NullFloat64
	var first, latest sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(verification_count), MIN(created_at), MAX(refreshed_at)
		FROM memories WHERE repository = ?
	`, repository).Scan(&avg, &first, &latest)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	if avg.Valid {
		stats.AvgVerifications = avg.Float64
	}
	if first.Valid {
		if t, err := parseSQLiteTime(first.String); err == nil {
			stats.FirstMemoryAt = &t
		}
	}
	if latest.Valid {
		if t, err := parseSQLiteTime(latest.String); err == nil {
			stats.LatestMemoryAt = &t
		}
	}

	return stats, nil
}

// parseSQLiteTime parses the datetime strings SQLite returns for aggregate
// expressions, where the driver cannot infer a column type.
func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05Z",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

// Count returns the total number of records across all repositories
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count)
	return count, err
}

// Size returns the database file size as a human-readable string
func (s *Store) Size() (string, error) {
	dbPath := filepath.Join(s.dataDir, "ledger.db")
	info, err := os.Stat(dbPath)
	if err != nil {
		return "unknown", err
	}

	size := info.Size()
	if size < 1024 {
		return fmt.Sprintf("%d B", size), nil
	} else if size < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(size)/1024), nil
	}
	return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024)), nil
}

// LastActivity returns the most recent refreshed_at across all repositories
func (s *Store) LastActivity(ctx context.Context) (time.Time, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(refreshed_at) FROM memories`).Scan(&last)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if !last.Valid || last.String == "" {
		return time.Time{}, nil
	}
	return parseSQLiteTime(last.String)
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) collectRecords(ctx context.Context, rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, rec := range records {
		cits, err := s.getCitations(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.Citations = cits
	}
	return records, nil
}

func (s *Store) getCitations(ctx context.Context, memoryID string) ([]Citation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, start_line, end_line, revision, content_fingerprint, created_at
		FROM citations WHERE memory_id = ? ORDER BY position
	`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var citations []Citation
	for rows.Next() {
		var c Citation
		var revision, fingerprint sql.NullString
		if err := rows.Scan(&c.ID, &c.Path, &c.StartLine, &c.EndLine, &revision, &fingerprint, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan citation: %w", err)
		}
		if revision.Valid {
			c.Revision = revision.String
		}
		if fingerprint.Valid {
			c.ContentFingerprint = fingerprint.String
		}
		citations = append(citations, c)
	}
	return citations, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var reason, supersededBy, createdBy, verifiedBy, invalidatedBy, invalidationReason sql.NullString

	err := row.Scan(&rec.ID, &rec.Repository, &rec.Subject, &rec.Fact, &reason, &rec.Status,
		&supersededBy, &rec.VerificationCount, &createdBy, &verifiedBy, &invalidatedBy,
		&invalidationReason, &rec.CreatedAt, &rec.RefreshedAt)
	if err != nil {
		return nil, err
	}

	if reason.Valid {
		rec.Reason = reason.String
	}
	if supersededBy.Valid {
		rec.SupersededBy = supersededBy.String
	}
	if createdBy.Valid {
		rec.CreatedBy = createdBy.String
	}
	if verifiedBy.Valid {
		rec.VerifiedBy = verifiedBy.String
	}
	if invalidatedBy.Valid {
		rec.InvalidatedBy = invalidatedBy.String
	}
	if invalidationReason.Valid {
		rec.InvalidationReason = invalidationReason.String
	}

	return &rec, nil
}
