// Package types holds the shared data model for the context assembly and
// memory subsystem. Keeping these here avoids import cycles between the
// store, the indexing pipeline and the assembler.
package types

import "time"

// =============================================================================
// Conversation Model
// =============================================================================

// Role identifies which half of an exchange a turn belongs to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one conversational exchange half. Immutable once written.
type Turn struct {
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a named sequence of turns with a monotonically increasing
// sequence number. Reopenable by id across process restarts.
type Session struct {
	ID        string    `json:"id"`
	Workspace string    `json:"workspace"`
	NextSeq   int64     `json:"next_seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary covers a closed, contiguous range of turn sequence numbers
// [Lo, Hi] within one session. Ranges across a session's summaries are
// disjoint and contiguous from the session start; summaries are replaced,
// never edited, when the covered range grows.
type Summary struct {
	SessionID string    `json:"session_id"`
	Lo        int64     `json:"lo"`
	Hi        int64     `json:"hi"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// FactCategory classifies an extracted fact.
type FactCategory string

const (
	FactFileCreated   FactCategory = "file-created"
	FactFileModified  FactCategory = "file-modified"
	FactFunctionAdded FactCategory = "function-added"
	FactClassAdded    FactCategory = "class-added"
	FactErrorFixed    FactCategory = "error-fixed"
	FactDecision      FactCategory = "decision"
	FactConstraint    FactCategory = "constraint"
)

// Fact is a short structured statement extracted from conversation.
// No two live facts in a session share a DedupKey; a new fact with the
// same key supersedes the old one, but the superseded sequence number is
// retained for ordering tie-breaks.
type Fact struct {
	SessionID string       `json:"session_id"`
	Category  FactCategory `json:"category"`
	Subject   string       `json:"subject"`
	Detail    string       `json:"detail"`
	SourceSeq int64        `json:"source_seq"`
	FirstSeq  int64        `json:"first_seq"` // seq of the first fact under this key, kept across supersedes
	DedupKey  string       `json:"dedup_key"`
	CreatedAt time.Time    `json:"created_at"`
}

// =============================================================================
// Code Model
// =============================================================================

// CodeChunk is a bounded, syntactically aligned unit of source code.
// Its ID is stable for a given (path, byte range, content hash); changing
// the content inside the range produces a new chunk, never a mutation.
type CodeChunk struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Language    string `json:"language"`
	Symbol      string `json:"symbol"` // top-level symbol, if any
	Kind        string `json:"kind"`   // function, method, class, statements
	StartByte   int    `json:"start_byte"`
	EndByte     int    `json:"end_byte"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
	Content     string `json:"content"`
	ContentHash string `json:"content_hash"`
}

// SymbolEdge is one symbol graph relation: a file importing a module or a
// unit calling a symbol. The graph answers "what calls/imports this" when
// pulling in directly dependent context.
type SymbolEdge struct {
	Kind       string `json:"kind"` // "calls" or "imports"
	Path       string `json:"path"`
	FromSymbol string `json:"from_symbol"`
	ToSymbol   string `json:"to_symbol"`
}

// ScoredChunk pairs a chunk id with its similarity score for one query.
type ScoredChunk struct {
	ChunkID string  `json:"chunk_id"`
	Path    string  `json:"path"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
}

// RetrievalResult is the ephemeral, query-scoped ranked list of chunks.
// Never persisted.
type RetrievalResult struct {
	Query        string        `json:"query"`
	IndexVersion int64         `json:"index_version"`
	Chunks       []ScoredChunk `json:"chunks"`
}

// =============================================================================
// Assembly Model
// =============================================================================

// SegmentKind labels one slice of an assembled context.
type SegmentKind string

const (
	SegmentSystem        SegmentKind = "system"
	SegmentRetrievedCode SegmentKind = "retrieved-code"
	SegmentFacts         SegmentKind = "facts"
	SegmentSummary       SegmentKind = "summary"
	SegmentRecentTurn    SegmentKind = "recent-turn"
)

// Segment is one ordered piece of a ContextBundle.
type Segment struct {
	Kind   SegmentKind `json:"kind"`
	Text   string      `json:"text"`
	Tokens int         `json:"tokens"`
}

// ContextBundle is the final output of assembly for one turn. Ephemeral,
// rebuilt every turn, never persisted.
type ContextBundle struct {
	SessionID   string    `json:"session_id"`
	ModelFamily string    `json:"model_family"`
	Budget      int       `json:"budget"`
	Segments    []Segment `json:"segments"`
}

// TotalTokens returns the summed token counts of all segments.
func (b *ContextBundle) TotalTokens() int {
	total := 0
	for _, s := range b.Segments {
		total += s.Tokens
	}
	return total
}

// Prompt flattens the bundle into a single ordered prompt string.
func (b *ContextBundle) Prompt() string {
	var out []byte
	for i, s := range b.Segments {
		if i > 0 {
			out = append(out, '\n', '\n')
		}
		out = append(out, s.Text...)
	}
	return string(out)
}
