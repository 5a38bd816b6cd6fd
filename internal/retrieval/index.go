// Package retrieval is the semantic retrieval index: a vector similarity
// store over code chunks plus a lightweight symbol graph. Chunks and
// embeddings persist in SQLite; queries run against an immutable in-memory
// snapshot that is swapped atomically on publish, so a reindex running
// concurrently with queries never tears a result.
package retrieval

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"bujji/internal/embedding"
	"bujji/internal/logging"
	"bujji/internal/types"
)

// ErrUnavailable marks the index as missing or mid-rebuild. Callers proceed
// with an empty retrieval segment.
var ErrUnavailable = errors.New("retrieval: index unavailable")

type entry struct {
	chunk          types.CodeChunk
	vec            []float32
	indexedVersion int64
}

// snapshot is one immutable, consistent view of the index.
type snapshot struct {
	version  int64
	entries  map[string]*entry
	byPath   map[string][]string // path -> chunk ids
	bySymbol map[string][]string // defined symbol -> chunk ids
	callers  map[string][]string // symbol -> chunk ids that call/import it
}

// Index owns all CodeChunks and Embeddings for a workspace, independent of
// any session.
type Index struct {
	mu     sync.Mutex // serializes writers
	db     *sql.DB
	engine embedding.Engine

	// Mutable working state, guarded by mu. Published copies are immutable.
	pending map[string]*entry
	edges   map[string][]types.SymbolEdge // per path
	version int64

	snap      atomic.Pointer[snapshot]
	vectorExt bool
}

// Open loads or creates the index database and restores the last published
// snapshot.
func Open(path string, engine embedding.Engine) (*Index, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "retrieval.Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.RetrievalDebug("pragma failed (%s): %v", pragma, err)
		}
	}

	idx := &Index{
		db:      db,
		engine:  engine,
		pending: make(map[string]*entry),
		edges:   make(map[string][]types.SymbolEdge),
	}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	idx.detectVecExtension()
	if err := idx.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	idx.publishLocked()

	logging.Retrieval("index opened: path=%s version=%d chunks=%d", path, idx.version, len(idx.pending))
	return idx, nil
}

func (idx *Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id              TEXT PRIMARY KEY,
		path            TEXT NOT NULL,
		language        TEXT NOT NULL,
		symbol          TEXT NOT NULL DEFAULT '',
		kind            TEXT NOT NULL DEFAULT '',
		start_byte      INTEGER NOT NULL,
		end_byte        INTEGER NOT NULL,
		start_line      INTEGER NOT NULL,
		end_line        INTEGER NOT NULL,
		content         TEXT NOT NULL,
		content_hash    TEXT NOT NULL,
		indexed_version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		vector   BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS edges (
		path        TEXT NOT NULL,
		kind        TEXT NOT NULL,
		from_symbol TEXT NOT NULL DEFAULT '',
		to_symbol   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);
	CREATE INDEX IF NOT EXISTS idx_edges_path ON edges(path);
	`
	_, err := idx.db.Exec(schema)
	return err
}

// detectVecExtension probes for the sqlite-vec extension. Availability only
// logs; the query path works either way.
func (idx *Index) detectVecExtension() {
	var version string
	if err := idx.db.QueryRow("SELECT vec_version()").Scan(&version); err == nil {
		idx.vectorExt = true
		logging.Retrieval("sqlite-vec extension detected: %s", version)
		return
	}
	logging.RetrievalDebug("sqlite-vec extension not available; using in-memory scan")
}

// load restores persisted chunks, embeddings and edges into working state.
func (idx *Index) load() error {
	if err := idx.db.QueryRow(`SELECT value FROM meta WHERE key = 'version'`).Scan(&idx.version); err != nil {
		if err != sql.ErrNoRows {
			return err
		}
		idx.version = 0
	}

	rows, err := idx.db.Query(`
		SELECT c.id, c.path, c.language, c.symbol, c.kind, c.start_byte, c.end_byte,
		       c.start_line, c.end_line, c.content, c.content_hash, c.indexed_version,
		       e.vector
		FROM chunks c JOIN embeddings e ON e.chunk_id = c.id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var en entry
		var blob []byte
		c := &en.chunk
		if err := rows.Scan(&c.ID, &c.Path, &c.Language, &c.Symbol, &c.Kind,
			&c.StartByte, &c.EndByte, &c.StartLine, &c.EndLine,
			&c.Content, &c.ContentHash, &en.indexedVersion, &blob); err != nil {
			return err
		}
		en.vec = decodeVector(blob)
		idx.pending[c.ID] = &en
	}
	if err := rows.Err(); err != nil {
		return err
	}

	erows, err := idx.db.Query(`SELECT path, kind, from_symbol, to_symbol FROM edges`)
	if err != nil {
		return err
	}
	defer erows.Close()
	for erows.Next() {
		var e types.SymbolEdge
		if err := erows.Scan(&e.Path, &e.Kind, &e.FromSymbol, &e.ToSymbol); err != nil {
			return err
		}
		idx.edges[e.Path] = append(idx.edges[e.Path], e)
	}
	return erows.Err()
}

// Upsert writes one chunk and its embedding. Idempotent: re-upserting an
// identical chunk id is a no-op at the snapshot level.
func (idx *Index) Upsert(chunk types.CodeChunk, vec []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.upsertLocked(chunk, vec, idx.version+1)
}

func (idx *Index) upsertLocked(chunk types.CodeChunk, vec []float32, version int64) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertTx(tx, chunk, vec, version); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	idx.pending[chunk.ID] = &entry{chunk: chunk, vec: vec, indexedVersion: version}
	return nil
}

func upsertTx(tx *sql.Tx, chunk types.CodeChunk, vec []float32, version int64) error {
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO chunks
		  (id, path, language, symbol, kind, start_byte, end_byte, start_line, end_line, content, content_hash, indexed_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.Path, chunk.Language, chunk.Symbol, chunk.Kind,
		chunk.StartByte, chunk.EndByte, chunk.StartLine, chunk.EndLine,
		chunk.Content, chunk.ContentHash, version,
	); err != nil {
		return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO embeddings (chunk_id, vector) VALUES (?, ?)`,
		chunk.ID, encodeVector(vec)); err != nil {
		return fmt.Errorf("failed to upsert embedding %s: %w", chunk.ID, err)
	}
	return nil
}

// Delete removes one chunk and its embedding. Idempotent.
func (idx *Index) Delete(chunkID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, err := idx.db.Exec(`DELETE FROM chunks WHERE id = ?`, chunkID); err != nil {
		return err
	}
	if _, err := idx.db.Exec(`DELETE FROM embeddings WHERE chunk_id = ?`, chunkID); err != nil {
		return err
	}
	delete(idx.pending, chunkID)
	return nil
}

// ReplaceFile swaps a file's chunk set in one transaction: chunks whose ids
// are gone from the new parse are deleted, new ids are inserted, and the
// file's symbol edges are replaced. Chunks are never mutated in place.
func (idx *Index) ReplaceFile(path string, chunks []types.CodeChunk, vecs [][]float32, edges []types.SymbolEdge) error {
	if len(chunks) != len(vecs) {
		return fmt.Errorf("chunk/vector count mismatch for %s: %d != %d", path, len(chunks), len(vecs))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	version := idx.version + 1
	keep := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = true
	}

	// Unchanged ids keep their original indexed version, in SQLite and in
	// memory alike, so recency tie-breaks favor genuinely newer chunks and
	// survive a restart.
	versions := make([]int64, len(chunks))
	for i, c := range chunks {
		versions[i] = version
		if old, ok := idx.pending[c.ID]; ok {
			versions[i] = old.indexedVersion
		}
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stale []string
	for id, en := range idx.pending {
		if en.chunk.Path == path && !keep[id] {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		if _, err := tx.Exec(`DELETE FROM chunks WHERE id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM embeddings WHERE chunk_id = ?`, id); err != nil {
			return err
		}
	}

	for i, c := range chunks {
		if err := upsertTx(tx, c, vecs[i], versions[i]); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM edges WHERE path = ?`, path); err != nil {
		return err
	}
	for _, e := range edges {
		if _, err := tx.Exec(`INSERT INTO edges (path, kind, from_symbol, to_symbol) VALUES (?, ?, ?, ?)`,
			e.Path, e.Kind, e.FromSymbol, e.ToSymbol); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	for _, id := range stale {
		delete(idx.pending, id)
	}
	for i, c := range chunks {
		idx.pending[c.ID] = &entry{chunk: c, vec: vecs[i], indexedVersion: versions[i]}
	}
	if len(edges) > 0 {
		idx.edges[path] = append([]types.SymbolEdge(nil), edges...)
	} else {
		delete(idx.edges, path)
	}

	logging.RetrievalDebug("replaced file %s: %d chunks, %d stale removed", path, len(chunks), len(stale))
	return nil
}

// DeleteFile removes every chunk and edge belonging to a file.
func (idx *Index) DeleteFile(path string) error {
	return idx.ReplaceFile(path, nil, nil, nil)
}

// Publish makes the pending state visible to queries under a new, strictly
// monotonic version. Readers holding the old snapshot keep a consistent view.
func (idx *Index) Publish() (int64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.version++
	if _, err := idx.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('version', ?)`, idx.version); err != nil {
		idx.version--
		return 0, fmt.Errorf("failed to persist index version: %w", err)
	}
	idx.publishLocked()
	logging.Retrieval("published index version %d (%d chunks)", idx.version, len(idx.pending))
	return idx.version, nil
}

func (idx *Index) publishLocked() {
	snap := &snapshot{
		version:  idx.version,
		entries:  make(map[string]*entry, len(idx.pending)),
		byPath:   make(map[string][]string),
		bySymbol: make(map[string][]string),
		callers:  make(map[string][]string),
	}
	for id, en := range idx.pending {
		snap.entries[id] = en
		snap.byPath[en.chunk.Path] = append(snap.byPath[en.chunk.Path], id)
		if en.chunk.Symbol != "" {
			snap.bySymbol[en.chunk.Symbol] = append(snap.bySymbol[en.chunk.Symbol], id)
		}
	}
	for path, edges := range idx.edges {
		for _, e := range edges {
			// Every chunk of the referencing unit (or file, for imports)
			// counts as a caller of the target symbol.
			var from []string
			if e.FromSymbol != "" {
				for _, id := range snap.byPath[path] {
					if snap.entries[id].chunk.Symbol == e.FromSymbol {
						from = append(from, id)
					}
				}
			} else {
				from = snap.byPath[path]
			}
			snap.callers[e.ToSymbol] = append(snap.callers[e.ToSymbol], from...)
		}
	}
	idx.snap.Store(snap)
}

// Version returns the last published version.
func (idx *Index) Version() int64 {
	if snap := idx.snap.Load(); snap != nil {
		return snap.version
	}
	return 0
}

// ChunkIDsForFile returns the published chunk ids for a path, sorted.
func (idx *Index) ChunkIDsForFile(path string) []string {
	snap := idx.snap.Load()
	if snap == nil {
		return nil
	}
	ids := append([]string(nil), snap.byPath[path]...)
	sort.Strings(ids)
	return ids
}

// Chunk returns a published chunk by id.
func (idx *Index) Chunk(id string) (types.CodeChunk, bool) {
	snap := idx.snap.Load()
	if snap == nil {
		return types.CodeChunk{}, false
	}
	en, ok := snap.entries[id]
	if !ok {
		return types.CodeChunk{}, false
	}
	return en.chunk, true
}

// Close closes the underlying database.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.db.Close()
}

// encodeVector serializes a float32 vector as a little-endian blob, the
// layout sqlite-vec expects.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
