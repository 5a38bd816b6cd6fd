package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"bujji/internal/logging"
	"bujji/internal/tokens"
	"bujji/internal/types"
)

// Chunker splits syntactic units into chunks bounded by a token budget.
// A unit over budget is split recursively along its nested syntactic
// boundaries; an oversized leaf is hard-split by line count, and a single
// oversized line by rune windows, so no chunk is ever rejected for size.
type Chunker struct {
	est            *tokens.Estimator
	maxChunkTokens int
	hardSplitLines int
}

// NewChunker creates a chunker with the given limits.
func NewChunker(est *tokens.Estimator, maxChunkTokens, hardSplitLines int) *Chunker {
	if maxChunkTokens < 1 {
		maxChunkTokens = 1024
	}
	if hardSplitLines < 1 {
		hardSplitLines = 80
	}
	return &Chunker{est: est, maxChunkTokens: maxChunkTokens, hardSplitLines: hardSplitLines}
}

// ChunkFile converts a file's parsed units into bounded chunks with stable
// ids. Chunk order follows byte order within the file.
func (c *Chunker) ChunkFile(path, language string, content []byte, units []Unit) []types.CodeChunk {
	var chunks []types.CodeChunk
	for _, u := range units {
		chunks = append(chunks, c.chunkUnit(path, language, content, u)...)
	}
	logging.IndexDebug("chunked %s: %d units -> %d chunks", path, len(units), len(chunks))
	return chunks
}

func (c *Chunker) chunkUnit(path, language string, content []byte, u Unit) []types.CodeChunk {
	text := string(content[u.StartByte:u.EndByte])
	if c.est.Estimate(text, "") <= c.maxChunkTokens {
		return []types.CodeChunk{c.build(path, language, u.Symbol, u.Kind, u.StartByte, u.EndByte, u.StartLine, text)}
	}

	if len(u.Children) == 0 {
		return c.hardSplit(path, language, u.Symbol, u.Kind, u.StartByte, u.StartLine, text)
	}

	// Split along nested boundaries: children become their own chunks,
	// the gaps between them (headers, trailing code) are kept as
	// statement chunks of the parent.
	var chunks []types.CodeChunk
	cursor := u.StartByte
	line := u.StartLine
	for _, child := range u.Children {
		if child.StartByte > cursor {
			gap := string(content[cursor:child.StartByte])
			if strings.TrimSpace(gap) != "" {
				chunks = append(chunks, c.hardSplit(path, language, u.Symbol, "statements", cursor, line, gap)...)
			}
		}
		chunks = append(chunks, c.chunkUnit(path, language, content, child)...)
		cursor = child.EndByte
		line = child.EndLine
	}
	if cursor < u.EndByte {
		tail := string(content[cursor:u.EndByte])
		if strings.TrimSpace(tail) != "" {
			chunks = append(chunks, c.hardSplit(path, language, u.Symbol, "statements", cursor, line, tail)...)
		}
	}
	return chunks
}

// hardSplit cuts text into line windows no larger than the token budget.
func (c *Chunker) hardSplit(path, language, symbol, kind string, startByte, startLine int, text string) []types.CodeChunk {
	if c.est.Estimate(text, "") <= c.maxChunkTokens {
		return []types.CodeChunk{c.build(path, language, symbol, kind, startByte, startByte+len(text), startLine, text)}
	}

	lines := strings.SplitAfter(text, "\n")
	var chunks []types.CodeChunk

	window := c.hardSplitLines
	byteOff := startByte
	lineOff := startLine
	i := 0
	for i < len(lines) {
		end := i + window
		if end > len(lines) {
			end = len(lines)
		}
		piece := strings.Join(lines[i:end], "")

		// Shrink the window until the piece fits.
		for end > i+1 && c.est.Estimate(piece, "") > c.maxChunkTokens {
			end--
			piece = strings.Join(lines[i:end], "")
		}

		if c.est.Estimate(piece, "") > c.maxChunkTokens {
			// A single line over budget: fall back to rune windows.
			chunks = append(chunks, c.runeSplit(path, language, symbol, byteOff, lineOff, piece)...)
		} else if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, c.build(path, language, symbol, kind, byteOff, byteOff+len(piece), lineOff, piece))
		}

		byteOff += len(piece)
		lineOff += end - i
		i = end
	}
	return chunks
}

// runeSplit is the absolute last resort for pathological single lines.
func (c *Chunker) runeSplit(path, language, symbol string, startByte, startLine int, text string) []types.CodeChunk {
	runes := []rune(text)
	var chunks []types.CodeChunk
	byteOff := startByte
	i := 0
	for i < len(runes) {
		// Optimistic ~3 runes/token window, halved until the estimator
		// agrees. Token-dense text (CJK, emoji byte fallback) can run
		// several tokens per rune, so the guess alone is not enough.
		end := i + c.maxChunkTokens*3
		if end > len(runes) {
			end = len(runes)
		}
		piece := string(runes[i:end])
		for end > i+1 && c.est.Estimate(piece, "") > c.maxChunkTokens {
			end = i + (end-i)/2
			piece = string(runes[i:end])
		}
		chunks = append(chunks, c.build(path, language, symbol, "statements", byteOff, byteOff+len(piece), startLine, piece))
		byteOff += len(piece)
		i = end
	}
	return chunks
}

func (c *Chunker) build(path, language, symbol, kind string, startByte, endByte, startLine int, text string) types.CodeChunk {
	contentHash := hashHex([]byte(text))
	return types.CodeChunk{
		ID:          ChunkID(path, startByte, endByte, contentHash),
		Path:        path,
		Language:    language,
		Symbol:      symbol,
		Kind:        kind,
		StartByte:   startByte,
		EndByte:     endByte,
		StartLine:   startLine,
		EndLine:     startLine + strings.Count(text, "\n"),
		Content:     text,
		ContentHash: contentHash,
	}
}

// ChunkID derives the stable chunk id from path, byte range and content
// hash. Any content change inside the range yields a new id.
func ChunkID(path string, startByte, endByte int, contentHash string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d:%s", path, startByte, endByte, contentHash)))
	return hex.EncodeToString(sum[:8])
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
