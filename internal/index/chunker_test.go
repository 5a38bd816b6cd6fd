package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bujji/internal/tokens"
)

func TestChunkFileSmallUnitStaysWhole(t *testing.T) {
	est := tokens.NewEstimator()
	c := NewChunker(est, 1024, 80)

	content := []byte("func add(a, b int) int {\n\treturn a + b\n}\n")
	units := []Unit{{
		Kind: "function", Symbol: "add",
		StartByte: 0, EndByte: len(content),
		StartLine: 1, EndLine: 3,
	}}

	chunks := c.ChunkFile("math.go", "go", content, units)
	require.Len(t, chunks, 1)
	assert.Equal(t, "add", chunks[0].Symbol)
	assert.Equal(t, string(content), chunks[0].Content)
	assert.Equal(t, "go", chunks[0].Language)
	assert.NotEmpty(t, chunks[0].ID)
	assert.NotEmpty(t, chunks[0].ContentHash)
}

func TestChunkFileOversizedLeafSplitsUnderBudget(t *testing.T) {
	est := tokens.NewEstimator()
	maxTokens := 50
	c := NewChunker(est, maxTokens, 10)

	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("\tresult = append(result, transform(input[index]))\n")
	}
	content := []byte(sb.String())
	units := []Unit{{
		Kind: "function", Symbol: "transformAll",
		StartByte: 0, EndByte: len(content),
		StartLine: 1, EndLine: 200,
	}}

	chunks := c.ChunkFile("big.go", "go", content, units)
	require.Greater(t, len(chunks), 1, "oversized unit must be split")
	for _, ch := range chunks {
		assert.LessOrEqual(t, est.Estimate(ch.Content, ""), maxTokens,
			"chunk [%d,%d] exceeds the token budget", ch.StartByte, ch.EndByte)
	}

	// Split pieces must tile the unit without losing bytes.
	var reassembled strings.Builder
	for _, ch := range chunks {
		reassembled.WriteString(ch.Content)
	}
	assert.Equal(t, string(content), reassembled.String())
}

func TestChunkFileSingleOversizedLine(t *testing.T) {
	est := tokens.NewEstimator()
	c := NewChunker(est, 20, 5)

	content := []byte("const blob = \"" + strings.Repeat("abcdef0123456789", 200) + "\"\n")
	units := []Unit{{
		Kind: "statements",
		StartByte: 0, EndByte: len(content),
		StartLine: 1, EndLine: 1,
	}}

	chunks := c.ChunkFile("blob.js", "javascript", content, units)
	require.NotEmpty(t, chunks, "a pathological line must still be chunked, never rejected")
}

func TestChunkFileTokenDenseLineUnderBudget(t *testing.T) {
	est := tokens.NewEstimator()
	maxTokens := 10
	c := NewChunker(est, maxTokens, 5)

	// Emoji encode to several tokens per rune under BPE byte fallback, so
	// a rune window sized by a chars-per-token guess overshoots badly.
	content := []byte(strings.Repeat("🚀", 400) + "\n")
	units := []Unit{{
		Kind: "statements",
		StartByte: 0, EndByte: len(content),
		StartLine: 1, EndLine: 1,
	}}

	chunks := c.ChunkFile("dense.py", "python", content, units)
	require.NotEmpty(t, chunks)

	var reassembled strings.Builder
	for _, ch := range chunks {
		assert.LessOrEqual(t, est.Estimate(ch.Content, ""), maxTokens,
			"chunk [%d,%d] exceeds the token budget", ch.StartByte, ch.EndByte)
		reassembled.WriteString(ch.Content)
	}
	assert.Equal(t, string(content), reassembled.String())
}

func TestChunkFileSplitsAlongChildren(t *testing.T) {
	est := tokens.NewEstimator()
	c := NewChunker(est, 60, 10)

	method := "\tfunc() {\n" + strings.Repeat("\t\tdoWork()\n", 40) + "\t}\n"
	header := "type worker struct{}\n\n"
	content := []byte(header + method + method)

	child1Start := len(header)
	child1End := child1Start + len(method)
	units := []Unit{{
		Kind: "class", Symbol: "worker",
		StartByte: 0, EndByte: len(content),
		StartLine: 1,
		Children: []Unit{
			{Kind: "method", Symbol: "run", StartByte: child1Start, EndByte: child1End, StartLine: 3},
			{Kind: "method", Symbol: "stop", StartByte: child1End, EndByte: len(content), StartLine: 45},
		},
	}}

	chunks := c.ChunkFile("worker.go", "go", content, units)
	require.Greater(t, len(chunks), 2)

	symbols := make(map[string]bool)
	for _, ch := range chunks {
		symbols[ch.Symbol] = true
	}
	assert.True(t, symbols["run"], "child unit symbols must survive the split")
	assert.True(t, symbols["stop"])
}

func TestChunkIDStable(t *testing.T) {
	hash := hashHex([]byte("some content"))
	first := ChunkID("pkg/file.go", 10, 90, hash)
	assert.Equal(t, first, ChunkID("pkg/file.go", 10, 90, hash))
	assert.NotEqual(t, first, ChunkID("pkg/file.go", 10, 90, hashHex([]byte("other content"))),
		"content changes must change the id")
	assert.NotEqual(t, first, ChunkID("pkg/other.go", 10, 90, hash))
}
