package memory

import (
	"fmt"
	"time"

	"bujji/internal/logging"
	"bujji/internal/types"
)

// ReplaceSummary atomically removes every summary whose range falls inside
// [sum.Lo, sum.Hi] and inserts the replacement. This is the only write path
// for summaries: merge-forward replaces, never edits, so a session's ranges
// stay disjoint and contiguous from the start.
func (s *Store) ReplaceSummary(sum types.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sum.Hi < sum.Lo {
		return fmt.Errorf("invalid summary range [%d, %d]", sum.Lo, sum.Hi)
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM summaries WHERE session_id = ? AND lo >= ? AND hi <= ?`,
		sum.SessionID, sum.Lo, sum.Hi,
	); err != nil {
		return fmt.Errorf("failed to clear superseded summaries: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO summaries (session_id, lo, hi, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		sum.SessionID, sum.Lo, sum.Hi, sum.Text, sum.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit summary: %w", err)
	}

	logging.Store("summary replaced: session=%s range=[%d,%d] len=%d", sum.SessionID, sum.Lo, sum.Hi, len(sum.Text))
	return nil
}

// Summaries returns a session's summaries ordered by range start.
func (s *Store) Summaries(sessionID string) ([]types.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT session_id, lo, hi, text, created_at FROM summaries
		 WHERE session_id = ? ORDER BY lo`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []types.Summary
	for rows.Next() {
		var sum types.Summary
		if err := rows.Scan(&sum.SessionID, &sum.Lo, &sum.Hi, &sum.Text, &sum.CreatedAt); err != nil {
			return nil, err
		}
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

// SummarizedThrough returns the highest turn sequence covered by any
// summary, or 0 when nothing is summarized yet.
func (s *Store) SummarizedThrough(sessionID string) (int64, error) {
	sums, err := s.Summaries(sessionID)
	if err != nil {
		return 0, err
	}
	var hi int64
	for _, sum := range sums {
		if sum.Hi > hi {
			hi = sum.Hi
		}
	}
	return hi, nil
}

// SessionMemory returns the summaries and facts for a session, used by
// collaborators for cross-session warm starts.
func (s *Store) SessionMemory(sessionID string) ([]types.Summary, []types.Fact, error) {
	sums, err := s.Summaries(sessionID)
	if err != nil {
		return nil, nil, err
	}
	facts, err := s.Facts(sessionID)
	if err != nil {
		return nil, nil, err
	}
	return sums, facts, nil
}
