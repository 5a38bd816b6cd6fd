// Package memory is the durable owner of sessions, turns, summaries and
// facts. Backed by SQLite in WAL mode: committed writes survive restarts and
// an interrupted write leaves the last committed state, never a torn row.
// All writes are append-or-replace; rows are never partially mutated.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"bujji/internal/logging"
)

// Store provides durable CRUD over conversation memory.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path, creating the
// schema if needed. Pass ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "memory.Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		// NORMAL is safe under WAL: the log still guarantees crash recovery.
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma failed (%s): %v", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("memory store opened at %s", path)
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		workspace  TEXT NOT NULL DEFAULT '',
		next_seq   INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL REFERENCES sessions(id),
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		text       TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS summaries (
		session_id TEXT NOT NULL REFERENCES sessions(id),
		lo         INTEGER NOT NULL,
		hi         INTEGER NOT NULL,
		text       TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, lo),
		CHECK (hi >= lo)
	);

	CREATE TABLE IF NOT EXISTS facts (
		session_id TEXT NOT NULL REFERENCES sessions(id),
		dedup_key  TEXT NOT NULL,
		category   TEXT NOT NULL,
		subject    TEXT NOT NULL,
		detail     TEXT NOT NULL,
		source_seq INTEGER NOT NULL,
		first_seq  INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, dedup_key)
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_facts_session_seq ON facts(session_id, source_seq DESC);
	CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id, lo);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.dbPath
}
