// memq is a standalone read-only inspector for bujji memory databases.
// It opens the SQLite files directly with a pure-Go driver, so it works
// without cgo and without the main binary's configuration.
//
// Usage:
//
//	memq                     # inspect .bujji/memory.db in the current dir
//	memq path/to/memory.db   # inspect a specific database
//	memq path/to/memory.db session-id
package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

func main() {
	dbPath := filepath.Join(".bujji", "memory.db")
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		fmt.Printf("Error opening DB: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if len(os.Args) > 2 {
		dumpSession(db, os.Args[2])
		return
	}
	listSessions(db)
}

func listSessions(db *sql.DB) {
	rows, err := db.Query(
		`SELECT id, next_seq - 1, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		fmt.Printf("Error querying sessions: %v\n", err)
		return
	}
	defer rows.Close()

	fmt.Println("Sessions:")
	for rows.Next() {
		var id, updated string
		var turns int64
		if err := rows.Scan(&id, &turns, &updated); err != nil {
			fmt.Printf("  scan error: %v\n", err)
			continue
		}
		fmt.Printf("  %s  turns=%d  updated=%s\n", id, turns, updated)
	}
}

func dumpSession(db *sql.DB, sessionID string) {
	fmt.Printf("=== session %s ===\n", sessionID)

	rows, err := db.Query(
		`SELECT lo, hi, text FROM summaries WHERE session_id = ? ORDER BY lo`, sessionID)
	if err == nil {
		for rows.Next() {
			var lo, hi int64
			var text string
			rows.Scan(&lo, &hi, &text)
			fmt.Printf("\nsummary [%d,%d]:\n%s\n", lo, hi, text)
		}
		rows.Close()
	}

	rows, err = db.Query(
		`SELECT category, subject, detail, source_seq FROM facts
		 WHERE session_id = ? ORDER BY source_seq DESC`, sessionID)
	if err == nil {
		fmt.Println("\nfacts:")
		for rows.Next() {
			var cat, subject, detail string
			var seq int64
			rows.Scan(&cat, &subject, &detail, &seq)
			fmt.Printf("  [%s] %s %s (turn %d)\n", cat, subject, detail, seq)
		}
		rows.Close()
	}

	rows, err = db.Query(
		`SELECT seq, role, text FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT 10`, sessionID)
	if err == nil {
		fmt.Println("\nlast turns:")
		for rows.Next() {
			var seq int64
			var role, text string
			rows.Scan(&seq, &role, &text)
			if len(text) > 120 {
				text = text[:120] + "..."
			}
			fmt.Printf("  %4d [%s] %s\n", seq, role, text)
		}
		rows.Close()
	}
}
