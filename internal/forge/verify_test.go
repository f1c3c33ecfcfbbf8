package forge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves citation reads from an in-memory file map and records
// what was asked of it.
type fakeReader struct {
	mu        sync.Mutex
	files     map[string]string
	errors    map[string]error
	revisions []string
}

func (f *fakeReader) ReadCitation(ctx context.Context, repository, path string, lineStart, lineEnd int, revision string) (CitationSlice, error) {
	f.mu.Lock()
	f.revisions = append(f.revisions, revision)
	f.mu.Unlock()

	if err, ok := f.errors[path]; ok {
		return CitationSlice{}, err
	}
	content, ok := f.files[path]
	if !ok {
		return CitationSlice{Exists: false}, nil
	}
	return CitationSlice{
		Exists:           true,
		Content:          SliceLines(content, lineStart, lineEnd),
		ResolvedRevision: "rev-" + revision,
	}, nil
}

func TestVerify_AllResolve(t *testing.T) {
	reader := &fakeReader{files: map[string]string{
		"a.go": "line1\nline2\nline3",
		"b.go": "x\ny",
	}}

	result := NewVerifier(reader).Verify(context.Background(), "acme/widgets", []Citation{
		{Path: "a.go", StartLine: 1, EndLine: 2},
		{Path: "b.go", StartLine: 1, EndLine: 1},
	}, DefaultRevision)

	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.ValidCount)
	assert.Equal(t, 0, result.InvalidCount)
	require.Len(t, result.Citations, 2)
	assert.True(t, result.Citations[0].Exists)
	assert.True(t, result.Citations[1].Exists)
}

func TestVerify_OneMissing(t *testing.T) {
	reader := &fakeReader{files: map[string]string{
		"present.go": "content",
	}}

	result := NewVerifier(reader).Verify(context.Background(), "acme/widgets", []Citation{
		{Path: "present.go", StartLine: 1, EndLine: 1},
		{Path: "deleted.go", StartLine: 1, EndLine: 5},
	}, DefaultRevision)

	// One failure poisons the whole verdict but not the sibling result
	assert.False(t, result.Valid)
	assert.Equal(t, 1, result.ValidCount)
	assert.Equal(t, 1, result.InvalidCount)
	assert.True(t, result.Citations[0].Exists)
	assert.False(t, result.Citations[1].Exists)
	assert.Empty(t, result.Citations[1].Error)
}

func TestVerify_ReaderErrorIsolated(t *testing.T) {
	reader := &fakeReader{
		files:  map[string]string{"ok.go": "content"},
		errors: map[string]error{"broken.go": errors.New("connection reset")},
	}

	result := NewVerifier(reader).Verify(context.Background(), "acme/widgets", []Citation{
		{Path: "broken.go", StartLine: 1, EndLine: 1},
		{Path: "ok.go", StartLine: 1, EndLine: 1},
	}, DefaultRevision)

	assert.False(t, result.Valid)
	assert.Equal(t, 1, result.ValidCount)
	assert.False(t, result.Citations[0].Exists)
	assert.Contains(t, result.Citations[0].Error, "connection reset")
	assert.True(t, result.Citations[1].Exists, "sibling read must still run")
}

func TestVerify_ResultsKeepInputOrder(t *testing.T) {
	reader := &fakeReader{files: map[string]string{
		"a.go": "a", "b.go": "b", "c.go": "c",
	}}

	citations := []Citation{
		{Path: "c.go", StartLine: 1, EndLine: 1},
		{Path: "a.go", StartLine: 1, EndLine: 1},
		{Path: "b.go", StartLine: 1, EndLine: 1},
	}
	result := NewVerifier(reader).Verify(context.Background(), "acme/widgets", citations, DefaultRevision)

	require.Len(t, result.Citations, 3)
	for i, cit := range citations {
		assert.Equal(t, cit.Path, result.Citations[i].Path)
	}
}

func TestVerify_DefaultRevision(t *testing.T) {
	reader := &fakeReader{files: map[string]string{"a.go": "x", "b.go": "y"}}

	NewVerifier(reader).Verify(context.Background(), "acme/widgets", []Citation{
		{Path: "a.go", StartLine: 1, EndLine: 1},
		{Path: "b.go", StartLine: 1, EndLine: 1, Revision: "abc123"},
	}, "main")

	// A pinned citation keeps its revision; an unpinned one gets the default
	assert.ElementsMatch(t, []string{"main", "abc123"}, reader.revisions)
}

func TestVerify_FingerprintAdvisory(t *testing.T) {
	reader := &fakeReader{files: map[string]string{"a.go": "current content"}}

	result := NewVerifier(reader).Verify(context.Background(), "acme/widgets", []Citation{
		{Path: "a.go", StartLine: 1, EndLine: 1, ContentFingerprint: Fingerprint("current content")},
		{Path: "a.go", StartLine: 1, EndLine: 1, ContentFingerprint: Fingerprint("stale content")},
		{Path: "a.go", StartLine: 1, EndLine: 1},
	}, DefaultRevision)

	// Drift never demotes an existing citation
	assert.True(t, result.Valid)
	assert.Equal(t, 3, result.ValidCount)

	require.NotNil(t, result.Citations[0].FingerprintMatch)
	assert.True(t, *result.Citations[0].FingerprintMatch)

	require.NotNil(t, result.Citations[1].FingerprintMatch)
	assert.False(t, *result.Citations[1].FingerprintMatch)
	assert.True(t, result.Citations[1].Exists)

	assert.Nil(t, result.Citations[2].FingerprintMatch, "no fingerprint, no verdict")
}

func TestVerify_Empty(t *testing.T) {
	reader := &fakeReader{}
	result := NewVerifier(reader).Verify(context.Background(), "acme/widgets", nil, DefaultRevision)

	assert.True(t, result.Valid)
	assert.Equal(t, 0, result.ValidCount)
	assert.Equal(t, 0, result.InvalidCount)
	assert.Empty(t, result.Citations)
}

func TestVerify_ManyCitations(t *testing.T) {
	reader := &fakeReader{files: map[string]string{"a.go": "x"}}

	var citations []Citation
	for i := 0; i < 50; i++ {
		citations = append(citations, Citation{Path: "a.go", StartLine: 1, EndLine: 1})
	}
	result := NewVerifier(reader).Verify(context.Background(), "acme/widgets", citations, DefaultRevision)

	assert.Equal(t, 50, result.ValidCount)
	assert.True(t, result.Valid)
}
