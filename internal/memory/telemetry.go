package memory

import (
	"context"
	"fmt"
	"time"
)

// UsageEvent records that an agent consulted a memory and acted on it.
type UsageEvent struct {
	ID        string    `json:"id"`
	MemoryID  string    `json:"memory_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// LogApplied appends a usage event. Append-only and independent of every
// other operation: the store reports its own failures, and callers treat the
// write as best-effort so a telemetry outage never blocks fact retrieval.
func (s *Store) LogApplied(ctx context.Context, memoryID, agentID, sessionID string) (*UsageEvent, error) {
	if memoryID == "" {
		return nil, fmt.Errorf("memory_id is required")
	}
	event := &UsageEvent{
		ID:        s.generateID(),
		MemoryID:  memoryID,
		AgentID:   agentID,
		SessionID: sessionID,
		AppliedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (id, memory_id, agent_id, session_id, applied_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.ID, event.MemoryID, event.AgentID, event.SessionID, event.AppliedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to log usage: %w", err)
	}
	return event, nil
}

// UsageCount returns how many times a memory has been applied.
func (s *Store) UsageCount(ctx context.Context, memoryID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_events WHERE memory_id = ?`, memoryID).Scan(&count)
	return count, err
}
