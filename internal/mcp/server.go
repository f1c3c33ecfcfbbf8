// Package mcp implements the Model Context Protocol server for Xylem
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/CanopyHQ/xylem/internal/forge"
	"github.com/CanopyHQ/xylem/internal/memory"
	"github.com/CanopyHQ/xylem/internal/metrics"
)

// Version is set by the serve command
var Version = "dev"

// Server implements the MCP protocol over stdio
type Server struct {
	store   *memory.Store
	reader  forge.Reader
	metrics *metrics.Collector
	scanner *bufio.Scanner
}

// LedgerStats contains store-wide statistics for the status surface
type LedgerStats struct {
	TotalMemories int    `json:"total_memories"`
	DatabaseSize  string `json:"database_size"`
	LastActivity  string `json:"last_activity"`
}

// maxRequestBytes bounds a single JSON-RPC line. Citation content snapshots
// can push a tools/call request well past bufio's default 64KB token limit.
const maxRequestBytes = 10 * 1024 * 1024

// NewServer creates a new MCP server
func NewServer() (*Server, error) {
	store, err := memory.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}
	return &Server{
		store:   store,
		metrics: metrics.NewCollector(),
		scanner: newScanner(os.Stdin),
	}, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRequestBytes)
	return scanner
}

// SetReader overrides the source host reader (used by tests)
func (s *Server) SetReader(r forge.Reader) {
	s.reader = r
}

// ensureReader builds the source host client on first use, so a missing
// credential only fails citation operations, not the whole server.
func (s *Server) ensureReader() (forge.Reader, error) {
	if s.reader != nil {
		return s.reader, nil
	}
	client, err := forge.NewClient()
	if err != nil {
		return nil, err
	}
	s.reader = client
	return s.reader, nil
}

// Start begins the MCP server loop
func (s *Server) Start() error {
	fmt.Fprintln(os.Stderr, "🌲 Xylem MCP server ready")

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			continue
		}

		var request JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &request); err != nil {
			s.sendError(nil, -32700, "Parse error", err.Error())
			continue
		}

		s.handleRequest(&request)
	}

	return s.scanner.Err()
}

// Stop gracefully shuts down the server
func (s *Server) Stop() {
	if s.store != nil {
		s.store.Close()
	}
}

// GetLedgerStats returns store-wide statistics
func (s *Server) GetLedgerStats() LedgerStats {
	count, _ := s.store.Count(context.Background())
	size, _ := s.store.Size()
	lastActivity, _ := s.store.LastActivity(context.Background())

	lastActivityStr := "never"
	if !lastActivity.IsZero() {
		lastActivityStr = lastActivity.Format(time.RFC3339)
	}

	return LedgerStats{
		TotalMemories: count,
		DatabaseSize:  size,
		LastActivity:  lastActivityStr,
	}
}

// handleRequest processes a JSON-RPC request
func (s *Server) handleRequest(req *JSONRPCRequest) {
	ctx := context.Background()

	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolCall(ctx, req)
	case "resources/list":
		s.handleResourcesList(req)
	case "resources/read":
		s.handleResourceRead(ctx, req)
	default:
		s.sendError(req.ID, -32601, "Method not found", req.Method)
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *JSONRPCRequest) {
	result := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "xylem-mcp",
			"version": Version,
		},
	}
	s.sendResult(req.ID, result)
}

// citationSchema is shared by the store, supersede and verify tools
var citationSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Repository-root-relative file path",
		},
		"line_start": map[string]interface{}{
			"type":        "integer",
			"description": "Starting line number (1-indexed, inclusive)",
		},
		"line_end": map[string]interface{}{
			"type":        "integer",
			"description": "Ending line number (1-indexed, inclusive)",
		},
		"revision": map[string]interface{}{
			"type":        "string",
			"description": "Optional pinned revision; verification uses HEAD when omitted",
		},
		"content": map[string]interface{}{
			"type":        "string",
			"description": "Optional snapshot of the cited text; a fingerprint is stored for drift detection",
		},
	},
	"required": []string{"path", "line_start", "line_end"},
}

// handleToolsList returns available tools
func (s *Server) handleToolsList(req *JSONRPCRequest) {
	tools := []map[string]interface{}{
		{
			"name":        "memory_store",
			"description": "Store a verified fact about a repository, anchored to one or more code citations. Facts with no citations are rejected.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"repository": map[string]interface{}{
						"type":        "string",
						"description": "Owning repository in owner/name form",
					},
					"subject": map[string]interface{}{
						"type":        "string",
						"description": "Short topic label",
					},
					"fact": map[string]interface{}{
						"type":        "string",
						"description": "The statement the agent should treat as true",
					},
					"citations": map[string]interface{}{
						"type":        "array",
						"description": "Code locations that substantiate the fact (at least one)",
						"items":       citationSchema,
					},
					"reason": map[string]interface{}{
						"type":        "string",
						"description": "Optional rationale for why the fact matters",
					},
					"created_by": map[string]interface{}{
						"type":        "string",
						"description": "Optional actor identifier for audit",
					},
				},
				"required": []string{"repository", "subject", "fact", "citations"},
			},
		},
		{
			"name":        "memory_get_recent",
			"description": "List active memories for a repository, most recently refreshed first.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"repository": map[string]interface{}{
						"type":        "string",
						"description": "Repository in owner/name form",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of memories to return (default: 50)",
					},
				},
				"required": []string{"repository"},
			},
		},
		{
			"name":        "memory_search_by_path",
			"description": "Find active memories whose citations mention a file path. Matching is substring: 'store.go' matches 'internal/memory/store.go'.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"repository": map[string]interface{}{
						"type":        "string",
						"description": "Repository in owner/name form",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path or path fragment to search citations for",
					},
				},
				"required": []string{"repository", "path"},
			},
		},
		{
			"name":        "memory_refresh",
			"description": "Record that a memory was re-verified and still holds: bumps its verification count and recency.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"memory_id": map[string]interface{}{
						"type":        "string",
						"description": "The ID of the memory to refresh",
					},
					"verified_by": map[string]interface{}{
						"type":        "string",
						"description": "Optional actor identifier for audit",
					},
				},
				"required": []string{"memory_id"},
			},
		},
		{
			"name":        "memory_invalidate",
			"description": "Mark a memory as no longer true. Terminal: the record stays queryable for audit but leaves active listings.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"memory_id": map[string]interface{}{
						"type":        "string",
						"description": "The ID of the memory to invalidate",
					},
					"reason": map[string]interface{}{
						"type":        "string",
						"description": "Why the fact no longer holds",
					},
					"invalidated_by": map[string]interface{}{
						"type":        "string",
						"description": "Optional actor identifier for audit",
					},
				},
				"required": []string{"memory_id"},
			},
		},
		{
			"name":        "memory_supersede",
			"description": "Replace a memory with a corrected fact. The old record is preserved and points at the replacement; citations carry over unless new ones are given.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"memory_id": map[string]interface{}{
						"type":        "string",
						"description": "The ID of the memory to supersede",
					},
					"fact": map[string]interface{}{
						"type":        "string",
						"description": "The corrected statement",
					},
					"citations": map[string]interface{}{
						"type":        "array",
						"description": "Optional replacement citations; defaults to the old record's",
						"items":       citationSchema,
					},
					"created_by": map[string]interface{}{
						"type":        "string",
						"description": "Optional actor identifier for audit",
					},
				},
				"required": []string{"memory_id", "fact"},
			},
		},
		{
			"name":        "memory_log_applied",
			"description": "Record that a memory was consulted and acted upon. Best-effort telemetry, independent of every other operation.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"memory_id": map[string]interface{}{
						"type":        "string",
						"description": "The ID of the memory that was applied",
					},
					"agent_id": map[string]interface{}{
						"type":        "string",
						"description": "Optional agent identifier",
					},
					"session_id": map[string]interface{}{
						"type":        "string",
						"description": "Optional session identifier",
					},
				},
				"required": []string{"memory_id"},
			},
		},
		{
			"name":        "memory_read_citation",
			"description": "Read the current text at a citation's location from the source host. A missing file is a normal result, not an error.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"repository": map[string]interface{}{
						"type":        "string",
						"description": "Repository in owner/name form",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Repository-root-relative file path",
					},
					"line_start": map[string]interface{}{
						"type":        "integer",
						"description": "Starting line number (1-indexed, inclusive)",
					},
					"line_end": map[string]interface{}{
						"type":        "integer",
						"description": "Ending line number (1-indexed, inclusive)",
					},
					"revision": map[string]interface{}{
						"type":        "string",
						"description": "Revision to read at (default: HEAD)",
					},
				},
				"required": []string{"repository", "path", "line_start", "line_end"},
			},
		},
		{
			"name":        "memory_verify_citations",
			"description": "Check whether citations still resolve. Pass a memory_id to verify a stored memory's citations, or an explicit citations array. Fingerprint mismatches are advisory.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"repository": map[string]interface{}{
						"type":        "string",
						"description": "Repository in owner/name form (required with explicit citations)",
					},
					"memory_id": map[string]interface{}{
						"type":        "string",
						"description": "Verify the stored citations of this memory",
					},
					"citations": map[string]interface{}{
						"type":        "array",
						"description": "Explicit citations to verify",
						"items":       citationSchema,
					},
					"revision": map[string]interface{}{
						"type":        "string",
						"description": "Default revision for citations that pin none (default: HEAD)",
					},
				},
			},
		},
		{
			"name":        "memory_stats",
			"description": "Per-repository ledger statistics: counts by status, average verifications, first and latest activity.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"repository": map[string]interface{}{
						"type":        "string",
						"description": "Repository in owner/name form",
					},
				},
				"required": []string{"repository"},
			},
		},
	}

	s.sendResult(req.ID, map[string]interface{}{"tools": tools})
}

// handleToolCall executes a tool
func (s *Server) handleToolCall(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	start := time.Now()
	var result interface{}
	var err error

	switch params.Name {
	case "memory_store":
		result, err = s.toolStore(ctx, params.Arguments)
	case "memory_get_recent":
		result, err = s.toolGetRecent(ctx, params.Arguments)
	case "memory_search_by_path":
		result, err = s.toolSearchByPath(ctx, params.Arguments)
	case "memory_refresh":
		result, err = s.toolRefresh(ctx, params.Arguments)
	case "memory_invalidate":
		result, err = s.toolInvalidate(ctx, params.Arguments)
	case "memory_supersede":
		result, err = s.toolSupersede(ctx, params.Arguments)
	case "memory_log_applied":
		result, err = s.toolLogApplied(ctx, params.Arguments)
	case "memory_read_citation":
		result, err = s.toolReadCitation(ctx, params.Arguments)
	case "memory_verify_citations":
		result, err = s.toolVerifyCitations(ctx, params.Arguments)
	case "memory_stats":
		result, err = s.toolStats(ctx, params.Arguments)
	default:
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
		return
	}

	if err != nil {
		errType := errorType(err)
		s.metrics.RecordOperation(params.Name, "error", time.Since(start))
		s.metrics.RecordError(params.Name, errType)
		text, _ := json.MarshalIndent(map[string]interface{}{
			"error":   errType,
			"message": err.Error(),
		}, "", "  ")
		s.sendResult(req.ID, map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": string(text)},
			},
			"isError": true,
		})
		return
	}

	s.metrics.RecordOperation(params.Name, "ok", time.Since(start))
	text, _ := json.MarshalIndent(result, "", "  ")
	s.sendResult(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(text)},
		},
	})
}

// errorType maps sentinel errors to the wire-level error taxonomy
func errorType(err error) string {
	switch {
	case errors.Is(err, memory.ErrInvalidCitation):
		return "invalid_citation"
	case errors.Is(err, memory.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, memory.ErrNotFound):
		return "not_found"
	case errors.Is(err, forge.ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, forge.ErrAuthMissing):
		return "authentication_missing"
	case errors.Is(err, forge.ErrHostUnavailable):
		return "host_unavailable"
	default:
		return "internal"
	}
}

// Tool implementations

func (s *Server) toolStore(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	repository := stringArg(args, "repository")
	subject := stringArg(args, "subject")
	fact := stringArg(args, "fact")
	if repository == "" {
		return nil, fmt.Errorf("repository is required")
	}
	if fact == "" {
		return nil, fmt.Errorf("fact is required")
	}

	citations, err := parseCitations(args["citations"])
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Create(ctx, repository, subject, fact, citations,
		stringArg(args, "reason"), stringArg(args, "created_by"))
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":  "stored",
		"id":      rec.ID,
		"memory":  formatRecord(rec),
		"message": fmt.Sprintf("Memory stored with ID %s and %d citation(s)", rec.ID, len(rec.Citations)),
	}, nil
}

func (s *Server) toolGetRecent(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	repository := stringArg(args, "repository")
	if repository == "" {
		return nil, fmt.Errorf("repository is required")
	}
	limit := intArg(args, "limit", memory.DefaultRecentLimit)

	records, err := s.store.GetRecent(ctx, repository, limit)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"repository": repository,
		"count":      len(records),
		"memories":   formatRecords(records),
	}, nil
}

func (s *Server) toolSearchByPath(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	repository := stringArg(args, "repository")
	path := stringArg(args, "path")
	if repository == "" || path == "" {
		return nil, fmt.Errorf("repository and path are required")
	}

	records, err := s.store.SearchByPath(ctx, repository, path)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"repository": repository,
		"path":       path,
		"count":      len(records),
		"memories":   formatRecords(records),
	}, nil
}

func (s *Server) toolRefresh(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id := stringArg(args, "memory_id")
	if id == "" {
		return nil, fmt.Errorf("memory_id is required")
	}

	rec, err := s.store.Refresh(ctx, id, stringArg(args, "verified_by"))
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":             "refreshed",
		"id":                 rec.ID,
		"verification_count": rec.VerificationCount,
		"refreshed_at":       rec.RefreshedAt.Format(time.RFC3339),
	}, nil
}

func (s *Server) toolInvalidate(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id := stringArg(args, "memory_id")
	if id == "" {
		return nil, fmt.Errorf("memory_id is required")
	}

	rec, err := s.store.Invalidate(ctx, id, stringArg(args, "reason"), stringArg(args, "invalidated_by"))
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":  "invalidated",
		"id":      rec.ID,
		"message": fmt.Sprintf("Memory %s marked invalid", rec.ID),
	}, nil
}

func (s *Server) toolSupersede(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id := stringArg(args, "memory_id")
	fact := stringArg(args, "fact")
	if id == "" || fact == "" {
		return nil, fmt.Errorf("memory_id and fact are required")
	}

	var citations []memory.Citation
	if args["citations"] != nil {
		var err error
		citations, err = parseCitations(args["citations"])
		if err != nil {
			return nil, err
		}
	}

	newRec, err := s.store.Supersede(ctx, id, fact, citations, stringArg(args, "created_by"))
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":  "superseded",
		"old_id":  id,
		"new_id":  newRec.ID,
		"memory":  formatRecord(newRec),
		"message": fmt.Sprintf("Memory %s superseded by %s", id, newRec.ID),
	}, nil
}

func (s *Server) toolLogApplied(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id := stringArg(args, "memory_id")
	if id == "" {
		return nil, fmt.Errorf("memory_id is required")
	}

	event, err := s.store.LogApplied(ctx, id, stringArg(args, "agent_id"), stringArg(args, "session_id"))
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":     "logged",
		"event_id":   event.ID,
		"memory_id":  event.MemoryID,
		"applied_at": event.AppliedAt.Format(time.RFC3339),
	}, nil
}

func (s *Server) toolReadCitation(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	repository := stringArg(args, "repository")
	path := stringArg(args, "path")
	if repository == "" || path == "" {
		return nil, fmt.Errorf("repository and path are required")
	}
	lineStart := intArg(args, "line_start", 0)
	lineEnd := intArg(args, "line_end", 0)

	reader, err := s.ensureReader()
	if err != nil {
		return nil, err
	}

	slice, err := reader.ReadCitation(ctx, repository, path, lineStart, lineEnd, stringArg(args, "revision"))
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"repository":        repository,
		"path":              path,
		"line_start":        lineStart,
		"line_end":          lineEnd,
		"exists":            slice.Exists,
		"content":           slice.Content,
		"resolved_revision": slice.ResolvedRevision,
	}, nil
}

func (s *Server) toolVerifyCitations(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	repository := stringArg(args, "repository")
	var citations []forge.Citation

	if memoryID := stringArg(args, "memory_id"); memoryID != "" {
		rec, err := s.store.Get(ctx, memoryID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, memoryID)
		}
		repository = rec.Repository
		for _, c := range rec.Citations {
			citations = append(citations, forge.Citation{
				Path:               c.Path,
				StartLine:          c.StartLine,
				EndLine:            c.EndLine,
				Revision:           c.Revision,
				ContentFingerprint: c.ContentFingerprint,
			})
		}
	} else {
		if repository == "" {
			return nil, fmt.Errorf("repository is required")
		}
		memCitations, err := parseCitations(args["citations"])
		if err != nil {
			return nil, err
		}
		for _, c := range memCitations {
			citations = append(citations, forge.Citation{
				Path:               c.Path,
				StartLine:          c.StartLine,
				EndLine:            c.EndLine,
				Revision:           c.Revision,
				ContentFingerprint: c.ContentFingerprint,
			})
		}
	}

	reader, err := s.ensureReader()
	if err != nil {
		return nil, err
	}

	revision := stringArg(args, "revision")
	if revision == "" {
		revision = forge.DefaultRevision
	}

	result := forge.NewVerifier(reader).Verify(ctx, repository, citations, revision)

	return map[string]interface{}{
		"repository":    repository,
		"valid":         result.Valid,
		"valid_count":   result.ValidCount,
		"invalid_count": result.InvalidCount,
		"citations":     result.Citations,
	}, nil
}

func (s *Server) toolStats(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	repository := stringArg(args, "repository")
	if repository == "" {
		return nil, fmt.Errorf("repository is required")
	}

	stats, err := s.store.Stats(ctx, repository)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// handleResourcesList returns available resources
func (s *Server) handleResourcesList(req *JSONRPCRequest) {
	resources := []map[string]interface{}{
		{
			"uri":         "xylem://memories/stats",
			"name":        "Ledger Statistics",
			"description": "Store-wide statistics across all repositories",
			"mimeType":    "application/json",
		},
	}
	s.sendResult(req.ID, map[string]interface{}{"resources": resources})
}

// handleResourceRead reads a resource
func (s *Server) handleResourceRead(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		URI string `json:"uri"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	switch params.URI {
	case "xylem://memories/stats":
		text, _ := json.MarshalIndent(s.GetLedgerStats(), "", "  ")
		s.sendResult(req.ID, map[string]interface{}{
			"contents": []map[string]interface{}{
				{
					"uri":      params.URI,
					"mimeType": "application/json",
					"text":     string(text),
				},
			},
		})
	default:
		s.sendError(req.ID, -32602, "Unknown resource", params.URI)
	}
}

// Argument and formatting helpers

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

// parseCitations decodes a tool-call citations array. A "content" snapshot,
// when present, is hashed into the stored fingerprint.
func parseCitations(raw interface{}) ([]memory.Citation, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: citations must be an array", memory.ErrInvalidCitation)
	}

	var citations []memory.Citation
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: citation must be an object", memory.ErrInvalidCitation)
		}
		c := memory.Citation{
			Path:      stringArg(m, "path"),
			StartLine: intArg(m, "line_start", 0),
			EndLine:   intArg(m, "line_end", 0),
			Revision:  stringArg(m, "revision"),
		}
		if content := stringArg(m, "content"); content != "" {
			c.ContentFingerprint = forge.Fingerprint(content)
		}
		citations = append(citations, c)
	}
	return citations, nil
}

func formatRecord(rec *memory.Record) map[string]interface{} {
	out := map[string]interface{}{
		"id":                 rec.ID,
		"repository":         rec.Repository,
		"subject":            rec.Subject,
		"fact":               rec.Fact,
		"citations":          rec.Citations,
		"status":             rec.Status,
		"verification_count": rec.VerificationCount,
		"created_at":         rec.CreatedAt.Format(time.RFC3339),
		"refreshed_at":       rec.RefreshedAt.Format(time.RFC3339),
	}
	if rec.Reason != "" {
		out["reason"] = rec.Reason
	}
	if rec.SupersededBy != "" {
		out["superseded_by"] = rec.SupersededBy
	}
	if rec.CreatedBy != "" {
		out["created_by"] = rec.CreatedBy
	}
	if rec.InvalidationReason != "" {
		out["invalidation_reason"] = rec.InvalidationReason
	}
	return out
}

func formatRecords(records []*memory.Record) []map[string]interface{} {
	out := make([]map[string]interface{}, len(records))
	for i, rec := range records {
		out[i] = formatRecord(rec)
	}
	return out
}

// JSON-RPC types and helpers

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (s *Server) sendResult(id interface{}, result interface{}) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	data, _ := json.Marshal(resp)
	fmt.Println(string(data))
}

func (s *Server) sendError(id interface{}, code int, message, data string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	respData, _ := json.Marshal(resp)
	fmt.Println(string(respData))
}
