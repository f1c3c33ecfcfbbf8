package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a temporary store for testing
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "xylem-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	originalDataDir := os.Getenv("XYLEM_DATA_DIR")
	os.Setenv("XYLEM_DATA_DIR", tmpDir)

	store, err := NewStore()
	if err != nil {
		os.RemoveAll(tmpDir)
		os.Setenv("XYLEM_DATA_DIR", originalDataDir)
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
		os.Setenv("XYLEM_DATA_DIR", originalDataDir)
	}

	return store, cleanup
}

func testCitation() Citation {
	return Citation{Path: "src/y.ts", StartLine: 10, EndLine: 12}
}

// =============================================================================
// Store Creation Tests
// =============================================================================

func TestNewStore(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	if store == nil {
		t.Fatal("expected non-nil store")
	}
	if store.db == nil {
		t.Error("expected non-nil database connection")
	}
}

func TestNewStore_CreatesDataDir(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "xylem-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	dataDir := filepath.Join(tmpDir, "subdir", "xylem")
	os.Setenv("XYLEM_DATA_DIR", dataDir)
	defer os.Unsetenv("XYLEM_DATA_DIR")

	store, err := NewStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(filepath.Join(dataDir, "ledger.db")); os.IsNotExist(err) {
		t.Error("expected database file to be created")
	}
}

// =============================================================================
// Create Tests
// =============================================================================

func TestCreate_Basic(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	rec, err := store.Create(ctx, "a/b", "X", "Y uses Z", []Citation{testCitation()}, "because", "agent-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if rec.ID == "" {
		t.Error("expected non-empty ID")
	}
	if rec.Status != StatusActive {
		t.Errorf("expected status active, got %q", rec.Status)
	}
	if rec.VerificationCount != 0 {
		t.Errorf("expected verification_count 0, got %d", rec.VerificationCount)
	}
	if len(rec.Citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(rec.Citations))
	}
	if rec.Citations[0].ID == "" {
		t.Error("expected citation to get an ID")
	}
	if rec.CreatedAt.IsZero() || rec.RefreshedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	// Round-trip through the database
	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected record back")
	}
	if got.Fact != "Y uses Z" || got.Subject != "X" || got.Repository != "a/b" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Reason != "because" || got.CreatedBy != "agent-1" {
		t.Errorf("audit fields lost: %+v", got)
	}
	if len(got.Citations) != 1 || got.Citations[0].Path != "src/y.ts" {
		t.Errorf("citations lost: %+v", got.Citations)
	}
}

func TestCreate_NoCitations(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	_, err := store.Create(ctx, "a/b", "X", "fact", nil, "", "")
	if !errors.Is(err, ErrInvalidCitation) {
		t.Fatalf("expected ErrInvalidCitation, got %v", err)
	}

	// Validation failures must not leave partial records behind
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected no records after failed create, got %d", count)
	}
}

func TestCreate_CitationWithoutPath(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.Create(context.Background(), "a/b", "X", "fact",
		[]Citation{{Path: "  ", StartLine: 1, EndLine: 2}}, "", "")
	if !errors.Is(err, ErrInvalidCitation) {
		t.Fatalf("expected ErrInvalidCitation, got %v", err)
	}
}

func TestCreate_CitationBadLineRange(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	_, err := store.Create(ctx, "a/b", "X", "fact",
		[]Citation{{Path: "main.go", StartLine: 0, EndLine: 2}}, "", "")
	if !errors.Is(err, ErrInvalidCitation) {
		t.Fatalf("expected ErrInvalidCitation for line_start 0, got %v", err)
	}

	_, err = store.Create(ctx, "a/b", "X", "fact",
		[]Citation{{Path: "main.go", StartLine: 5, EndLine: 3}}, "", "")
	if !errors.Is(err, ErrInvalidCitation) {
		t.Fatalf("expected ErrInvalidCitation for inverted range, got %v", err)
	}
}

func TestCreate_EmptyRepository(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.Create(context.Background(), "", "X", "fact", []Citation{testCitation()}, "", "")
	if err == nil {
		t.Fatal("expected error for empty repository")
	}
}

// =============================================================================
// Get / GetRecent Tests
// =============================================================================

func TestGet_Missing(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	rec, err := store.Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for missing id, got %+v", rec)
	}
}

func TestGetRecent_OrderAndScope(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	first, err := store.Create(ctx, "a/b", "one", "fact one", []Citation{testCitation()}, "", "")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := store.Create(ctx, "a/b", "two", "fact two", []Citation{testCitation()}, "", "")
	if err != nil {
		t.Fatal(err)
	}
	// Different repository must never leak into a/b listings
	if _, err := store.Create(ctx, "c/d", "other", "other fact", []Citation{testCitation()}, "", ""); err != nil {
		t.Fatal(err)
	}

	records, err := store.GetRecent(ctx, "a/b", 10)
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != second.ID || records[1].ID != first.ID {
		t.Errorf("expected newest first: got %s, %s", records[0].ID, records[1].ID)
	}
}

func TestGetRecent_Limit(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := store.Create(ctx, "a/b", "s", "fact", []Citation{testCitation()}, "", ""); err != nil {
			t.Fatal(err)
		}
	}

	records, err := store.GetRecent(ctx, "a/b", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 records, got %d", len(records))
	}

	// Zero limit falls back to the default cap
	records, err = store.GetRecent(ctx, "a/b", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 5 {
		t.Errorf("expected 5 records with default limit, got %d", len(records))
	}
}

func TestGetRecent_CorruptRowSurfacesError(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.Create(ctx, "a/b", "s", "good fact", []Citation{testCitation()}, "", ""); err != nil {
		t.Fatal(err)
	}

	// A row that cannot scan must fail the listing loudly, not silently
	// disappear from results. SQLite's dynamic typing lets text land in the
	// INTEGER column; scanning it into an int then fails.
	_, err := store.GetDB().Exec(`
		INSERT INTO memories (id, repository, subject, fact, status, verification_count, created_at, refreshed_at)
		VALUES ('corrupt-id', 'a/b', 's', 'bad fact', 'active', 'not-a-count', ?, ?)
	`, time.Now().UTC(), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.GetRecent(ctx, "a/b", 10); err == nil {
		t.Fatal("expected an error for the unscannable row")
	}
}

// =============================================================================
// SearchByPath Tests
// =============================================================================

// Search uses substring matching on the stored citation path: a fragment
// like "store.go" matches "internal/memory/store.go", and a directory
// fragment like "internal/memory" matches everything under it.
func TestSearchByPath_Substring(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	deep, err := store.Create(ctx, "a/b", "deep", "nested fact",
		[]Citation{{Path: "internal/memory/store.go", StartLine: 1, EndLine: 5}}, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, "a/b", "top", "top-level fact",
		[]Citation{{Path: "main.go", StartLine: 1, EndLine: 5}}, "", ""); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"exact path", "internal/memory/store.go", 1},
		{"file fragment", "store.go", 1},
		{"directory fragment", "internal/memory", 1},
		{"directory with trailing slash", "internal/memory/", 1},
		{"common suffix matches both", ".go", 2},
		{"no match", "does/not/exist.rs", 0},
		{"case sensitive", "Store.go", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := store.SearchByPath(ctx, "a/b", tt.query)
			if err != nil {
				t.Fatalf("SearchByPath(%q): %v", tt.query, err)
			}
			if len(records) != tt.want {
				t.Errorf("SearchByPath(%q): expected %d records, got %d", tt.query, tt.want, len(records))
			}
		})
	}

	// Invalidated records leave search results
	if _, err := store.Invalidate(ctx, deep.ID, "gone", ""); err != nil {
		t.Fatal(err)
	}
	records, err := store.SearchByPath(ctx, "a/b", "store.go")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("expected invalidated record to be excluded, got %d", len(records))
	}
}

func TestSearchByPath_MultipleCitationsOneRecord(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.Create(ctx, "a/b", "multi", "fact",
		[]Citation{
			{Path: "pkg/a.go", StartLine: 1, EndLine: 2},
			{Path: "pkg/b.go", StartLine: 3, EndLine: 4},
		}, "", ""); err != nil {
		t.Fatal(err)
	}

	// Both citations share the pkg/ prefix; the record must appear once
	records, err := store.SearchByPath(ctx, "a/b", "pkg/")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record (no duplicates), got %d", len(records))
	}
	if len(records) == 1 && len(records[0].Citations) != 2 {
		t.Errorf("expected both citations attached, got %d", len(records[0].Citations))
	}
}

// =============================================================================
// Stats Tests
// =============================================================================

func TestStats_EmptyRepository(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	stats, err := store.Stats(context.Background(), "empty/repo")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.ActiveCount != 0 || stats.SupersededCount != 0 || stats.InvalidCount != 0 {
		t.Errorf("expected zero counts, got %+v", stats)
	}
	if stats.AvgVerifications != 0 {
		t.Errorf("expected zero avg, got %f", stats.AvgVerifications)
	}
	if stats.FirstMemoryAt != nil || stats.LatestMemoryAt != nil {
		t.Errorf("expected nil timestamps for empty repo, got %+v", stats)
	}
}

func TestStats_CountsByStatus(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	a, _ := store.Create(ctx, "a/b", "s", "keep", []Citation{testCitation()}, "", "")
	b, _ := store.Create(ctx, "a/b", "s", "drop", []Citation{testCitation()}, "", "")
	c, _ := store.Create(ctx, "a/b", "s", "replace", []Citation{testCitation()}, "", "")

	if _, err := store.Refresh(ctx, a.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Invalidate(ctx, b.ID, "no longer true", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Supersede(ctx, c.ID, "replaced fact", nil, ""); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats(ctx, "a/b")
	if err != nil {
		t.Fatal(err)
	}
	// a + the supersede replacement are active
	if stats.ActiveCount != 2 {
		t.Errorf("expected 2 active, got %d", stats.ActiveCount)
	}
	if stats.InvalidCount != 1 {
		t.Errorf("expected 1 invalid, got %d", stats.InvalidCount)
	}
	if stats.SupersededCount != 1 {
		t.Errorf("expected 1 superseded, got %d", stats.SupersededCount)
	}
	if stats.FirstMemoryAt == nil || stats.LatestMemoryAt == nil {
		t.Error("expected timestamps to be set")
	}
	if stats.AvgVerifications <= 0 {
		t.Errorf("expected positive avg verifications, got %f", stats.AvgVerifications)
	}
}
