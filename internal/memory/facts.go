package memory

import (
	"fmt"
	"time"

	"bujji/internal/logging"
	"bujji/internal/types"
)

// UpsertFact inserts a fact or supersedes the live fact sharing its dedup
// key (last-write-wins). The first_seq of the original insert is retained
// across supersedes for ordering tie-breaks.
func (s *Store) UpsertFact(f types.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.DedupKey == "" {
		return fmt.Errorf("fact dedup key is required")
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO facts (session_id, dedup_key, category, subject, detail, source_seq, first_seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, dedup_key) DO UPDATE SET
		   category   = excluded.category,
		   subject    = excluded.subject,
		   detail     = excluded.detail,
		   source_seq = excluded.source_seq,
		   created_at = excluded.created_at`,
		f.SessionID, f.DedupKey, string(f.Category), f.Subject, f.Detail, f.SourceSeq, f.SourceSeq, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fact: %w", err)
	}

	logging.StoreDebug("upserted fact: session=%s key=%s seq=%d", f.SessionID, f.DedupKey, f.SourceSeq)
	return nil
}

// Facts returns all live facts for a session, most recent source sequence
// first; ties fall back to the retained first_seq, then the dedup key.
func (s *Store) Facts(sessionID string) ([]types.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT session_id, dedup_key, category, subject, detail, source_seq, first_seq, created_at
		 FROM facts WHERE session_id = ?
		 ORDER BY source_seq DESC, first_seq DESC, dedup_key`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []types.Fact
	for rows.Next() {
		var f types.Fact
		var cat string
		if err := rows.Scan(&f.SessionID, &f.DedupKey, &cat, &f.Subject, &f.Detail,
			&f.SourceSeq, &f.FirstSeq, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Category = types.FactCategory(cat)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
