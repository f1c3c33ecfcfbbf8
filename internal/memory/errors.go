package memory

import "errors"

// Sentinel errors for the record store and lifecycle controller.
// Callers match with errors.Is; the MCP layer maps them to typed payloads.
var (
	// ErrInvalidCitation is returned when a memory is created with no
	// citations, or with a citation missing its file path. Nothing is
	// persisted when it is returned.
	ErrInvalidCitation = errors.New("invalid citation")

	// ErrInvalidState is returned when a lifecycle transition targets a
	// record that is no longer active. The record is left unchanged.
	ErrInvalidState = errors.New("record is not active")

	// ErrNotFound is returned when an operation targets a record id that
	// does not exist.
	ErrNotFound = errors.New("memory not found")
)
