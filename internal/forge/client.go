// Package forge reads cited source from the hosting provider and verifies
// that citations still resolve.
package forge

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

// DefaultRevision is the floating pointer used when a citation pins nothing.
const DefaultRevision = "HEAD"

// Sentinel errors for the reader.
var (
	// ErrInvalidReference is returned for malformed repository identifiers
	// or line ranges. Caller error, never retried.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrAuthMissing is returned when no credential is configured for the
	// host, or the host rejects the configured one. Fatal, not retryable.
	ErrAuthMissing = errors.New("no source host credential configured")

	// ErrHostUnavailable is returned for transport failures and server
	// errors. Retry policy belongs to the caller.
	ErrHostUnavailable = errors.New("source host unavailable")
)

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*/[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// FileContent is a full file fetched at a revision. A missing file is a
// normal outcome, not an error: Exists is false and Content empty.
type FileContent struct {
	Exists           bool   `json:"exists"`
	Content          string `json:"content"`
	ResolvedRevision string `json:"resolved_revision,omitempty"`
}

// CitationSlice is the line range of a citation read back from the host.
type CitationSlice struct {
	Exists           bool   `json:"exists"`
	Content          string `json:"content"`
	ResolvedRevision string `json:"resolved_revision,omitempty"`
}

// Client reads file content from a GitHub-style contents API. It holds no
// state between calls; every read is a pure function of its inputs.
type Client struct {
	httpClient *http.Client
	apiBase    string
	token      string
}

// NewClient builds a reader from the environment. The bearer token comes
// from XYLEM_GITHUB_TOKEN or GITHUB_TOKEN; XYLEM_GITHUB_API overrides the
// API base URL.
func NewClient() (*Client, error) {
	token := os.Getenv("XYLEM_GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("%w: set XYLEM_GITHUB_TOKEN or GITHUB_TOKEN", ErrAuthMissing)
	}

	apiBase := os.Getenv("XYLEM_GITHUB_API")
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}

	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    strings.TrimSuffix(apiBase, "/"),
		token:      token,
	}, nil
}

// ValidRepository reports whether repository is in "owner/name" shape.
func ValidRepository(repository string) bool {
	return repoPattern.MatchString(repository)
}

// FetchFile fetches the full text of a file at a revision. The resolved
// revision is the blob hash the host reports for the content.
func (c *Client) FetchFile(ctx context.Context, repository, path, revision string) (FileContent, error) {
	if !ValidRepository(repository) {
		return FileContent{}, fmt.Errorf("%w: repository must be owner/name, got %q", ErrInvalidReference, repository)
	}
	if revision == "" {
		revision = DefaultRevision
	}

	endpoint := fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s",
		c.apiBase, repository, escapePath(path), url.QueryEscape(revision))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FileContent{}, fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FileContent{}, fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return FileContent{Exists: false}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return FileContent{}, fmt.Errorf("%w: host rejected credential (status %d)", ErrAuthMissing, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return FileContent{}, fmt.Errorf("%w: status %d", ErrHostUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
	if err != nil {
		return FileContent{}, fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}

	var payload struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
		SHA      string `json:"sha"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return FileContent{}, fmt.Errorf("%w: bad response: %v", ErrHostUnavailable, err)
	}

	content := payload.Content
	if payload.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return FileContent{}, fmt.Errorf("%w: bad content encoding: %v", ErrHostUnavailable, err)
		}
		content = string(decoded)
	}

	return FileContent{
		Exists:           true,
		Content:          content,
		ResolvedRevision: payload.SHA,
	}, nil
}

// ReadCitation fetches a file and extracts the cited line slice. Line
// numbers are 1-indexed and inclusive; ranges past the end of the file are
// clamped rather than rejected. A missing file returns Exists=false with no
// error.
func (c *Client) ReadCitation(ctx context.Context, repository, path string, lineStart, lineEnd int, revision string) (CitationSlice, error) {
	if lineStart < 1 {
		return CitationSlice{}, fmt.Errorf("%w: line_start must be >= 1, got %d", ErrInvalidReference, lineStart)
	}
	if lineEnd < lineStart {
		return CitationSlice{}, fmt.Errorf("%w: line_end %d before line_start %d", ErrInvalidReference, lineEnd, lineStart)
	}

	file, err := c.FetchFile(ctx, repository, path, revision)
	if err != nil {
		return CitationSlice{}, err
	}
	if !file.Exists {
		return CitationSlice{Exists: false}, nil
	}

	return CitationSlice{
		Exists:           true,
		Content:          SliceLines(file.Content, lineStart, lineEnd),
		ResolvedRevision: file.ResolvedRevision,
	}, nil
}

// SliceLines extracts the inclusive 1-indexed range [start, end], clamped to
// the file's actual line count.
func SliceLines(content string, start, end int) string {
	lines := strings.Split(content, "\n")
	if start > len(lines) {
		return ""
	}
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start-1:end], "\n")
}

// Fingerprint returns the content fingerprint for a cited slice: sha256 of
// the whitespace-trimmed text.
func Fingerprint(content string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(h[:])
}

// escapePath escapes each path segment while keeping separators
func escapePath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
