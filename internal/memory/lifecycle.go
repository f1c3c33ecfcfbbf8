package memory

import (
	"context"
	"fmt"
	"time"
)

// Lifecycle transitions. Each mutation is a single conditional statement
// against the active row, so concurrent calls on the same record serialize
// in SQLite and a lost refresh cannot happen. A transition that matches no
// active row reports ErrNotFound or ErrInvalidState and changes nothing;
// terminal records cannot be re-activated through any path.

// Refresh confirms a record is still accurate: bumps verification_count and
// moves the record to the front of recency listings.
func (s *Store) Refresh(ctx context.Context, id, verifiedBy string) (*Record, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET verification_count = verification_count + 1,
		    refreshed_at = ?,
		    verified_by = CASE WHEN ? != '' THEN ? ELSE verified_by END
		WHERE id = ? AND status = ?
	`, now, verifiedBy, verifiedBy, id, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.transitionFailure(ctx, id)
	}
	return s.Get(ctx, id)
}

// Invalidate marks an active record invalid. Terminal: the record stays
// queryable for audit but leaves every active listing.
func (s *Store) Invalidate(ctx context.Context, id, reason, invalidatedBy string) (*Record, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET status = ?, invalidation_reason = ?, invalidated_by = ?
		WHERE id = ? AND status = ?
	`, StatusInvalid, reason, invalidatedBy, id, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to invalidate memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.transitionFailure(ctx, id)
	}
	return s.Get(ctx, id)
}

// Supersede replaces an active record with a corrected fact. The new record
// starts active with counters at zero; citations default to the old record's
// unless overridden. The old record keeps its fact and citations untouched
// and points forward via superseded_by, so history stays inspectable.
func (s *Store) Supersede(ctx context.Context, id, newFact string, newCitations []Citation, createdBy string) (*Record, error) {
	old, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if old.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, id, old.Status)
	}

	citations := newCitations
	if len(citations) == 0 {
		citations = make([]Citation, len(old.Citations))
		for i, c := range old.Citations {
			citations[i] = Citation{
				Path:               c.Path,
				StartLine:          c.StartLine,
				EndLine:            c.EndLine,
				Revision:           c.Revision,
				ContentFingerprint: c.ContentFingerprint,
			}
		}
	}
	if err := validateCitations(citations); err != nil {
		return nil, err
	}

	newID := s.generateID()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, repository, subject, fact, reason, status, verification_count, created_by, created_at, refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, newID, old.Repository, old.Subject, newFact, old.Reason, StatusActive, createdBy, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert replacement: %w", err)
	}

	for i, c := range citations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO citations (id, memory_id, position, file_path, start_line, end_line, revision, content_fingerprint, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.generateID(), newID, i, c.Path, c.StartLine, c.EndLine, c.Revision, c.ContentFingerprint, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert citation: %w", err)
		}
	}

	// Conditional on status so a concurrent invalidate loses exactly one race
	res, err := tx.ExecContext(ctx, `
		UPDATE memories SET status = ?, superseded_by = ?
		WHERE id = ? AND status = ?
	`, StatusSuperseded, newID, id, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to mark superseded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return s.Get(ctx, newID)
}

// transitionFailure distinguishes a missing record from a terminal one after
// a conditional update matched no rows.
func (s *Store) transitionFailure(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, rec.Status)
}
