package memory

import (
	"database/sql"
	"fmt"
	"time"

	"bujji/internal/logging"
	"bujji/internal/types"
)

// OpenSession returns the session with the given id, creating it on first
// use. Sessions are never deleted automatically and may be reopened across
// process restarts.
func (s *Store) OpenSession(id, workspace string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO sessions (id, workspace, next_seq, created_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)`,
		id, workspace, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s.getSessionLocked(id)
}

func (s *Store) getSessionLocked(id string) (*types.Session, error) {
	var sess types.Session
	err := s.db.QueryRow(
		`SELECT id, workspace, next_seq, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Workspace, &sess.NextSeq, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns all sessions, most recently active first.
func (s *Store) ListSessions() ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, workspace, next_seq, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		var sess types.Session
		if err := rows.Scan(&sess.ID, &sess.Workspace, &sess.NextSeq, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSession returns an existing session by id.
func (s *Store) GetSession(id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSessionLocked(id)
}

// AppendTurn durably appends one turn to a session and returns it with its
// assigned sequence number. The insert and the sequence bump commit in one
// transaction.
func (s *Store) AppendTurn(sessionID string, role types.Role, text string) (types.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var turn types.Turn
	tx, err := s.db.Begin()
	if err != nil {
		return turn, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRow(`SELECT next_seq FROM sessions WHERE id = ?`, sessionID).Scan(&seq); err != nil {
		if err == sql.ErrNoRows {
			return turn, fmt.Errorf("session %s not found", sessionID)
		}
		return turn, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`INSERT INTO turns (session_id, seq, role, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, seq, string(role), text, now,
	); err != nil {
		return turn, fmt.Errorf("failed to insert turn: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE sessions SET next_seq = ?, updated_at = ? WHERE id = ?`,
		seq+1, now, sessionID,
	); err != nil {
		return turn, fmt.Errorf("failed to advance sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return turn, fmt.Errorf("failed to commit turn: %w", err)
	}

	logging.StoreDebug("appended turn: session=%s seq=%d role=%s len=%d", sessionID, seq, role, len(text))
	return types.Turn{SessionID: sessionID, Seq: seq, Role: role, Text: text, Timestamp: now}, nil
}

// TurnsInRange returns a session's turns with lo <= seq <= hi, in sequence
// order. hi < 0 means "to the end".
func (s *Store) TurnsInRange(sessionID string, lo, hi int64) ([]types.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT session_id, seq, role, text, created_at FROM turns
	          WHERE session_id = ? AND seq >= ?`
	args := []interface{}{sessionID, lo}
	if hi >= 0 {
		query += ` AND seq <= ?`
		args = append(args, hi)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []types.Turn
	for rows.Next() {
		var t types.Turn
		var role string
		if err := rows.Scan(&t.SessionID, &t.Seq, &role, &t.Text, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Role = types.Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// LastSeq returns the highest turn sequence number in a session, or 0 when
// the session has no turns.
func (s *Store) LastSeq(sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var seq sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(seq) FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
