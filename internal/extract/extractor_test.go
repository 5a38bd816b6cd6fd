package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bujji/internal/types"
)

type stubClient struct {
	text string
	err  error
}

func (c stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.text, c.err
}

func userTurn(seq int64, text string) types.Turn {
	return types.Turn{SessionID: "s1", Seq: seq, Role: types.RoleUser, Text: text}
}

func assistantTurn(seq int64, text string) types.Turn {
	return types.Turn{SessionID: "s1", Seq: seq, Role: types.RoleAssistant, Text: text}
}

func TestExtractParsesModelOutput(t *testing.T) {
	e := New(stubClient{text: `{"category": "file-created", "subject": "app.py", "detail": "flask entrypoint"}
{"category": "decision", "subject": "storage", "detail": "use sqlite over postgres"}`}, 0)

	facts := e.Extract(context.Background(), []types.Turn{
		userTurn(4, "create the app"),
		assistantTurn(5, "created app.py with a flask entrypoint"),
	})

	require.Len(t, facts, 2)
	assert.Equal(t, types.FactFileCreated, facts[0].Category)
	assert.Equal(t, "app.py", facts[0].Subject)
	assert.Equal(t, int64(5), facts[0].SourceSeq, "facts attribute to the last turn of the pass")
	assert.Equal(t, "file-created:app.py", facts[0].DedupKey)
	assert.Equal(t, types.FactDecision, facts[1].Category)
}

func TestExtractSkipsMalformedLines(t *testing.T) {
	e := New(stubClient{text: `Here are the facts you asked for:
{"category": "file-created", "subject": "main.go"}
{broken json
{"category": "not-a-category", "subject": "x"}
{"category": "decision", "subject": ""}`}, 0)

	facts := e.Extract(context.Background(), []types.Turn{assistantTurn(7, "made main.go")})
	require.Len(t, facts, 1)
	assert.Equal(t, "main.go", facts[0].Subject)
}

func TestExtractFallsBackToHeuristicsOnFailure(t *testing.T) {
	e := New(stubClient{err: errors.New("model unavailable")}, 0)

	facts := e.Extract(context.Background(), []types.Turn{
		assistantTurn(3, "Created server.py and fixed the ImportError bug. I decided to keep the config in YAML."),
	})

	byCategory := make(map[types.FactCategory][]string)
	for _, f := range facts {
		byCategory[f.Category] = append(byCategory[f.Category], f.Subject)
	}
	assert.Contains(t, byCategory[types.FactFileCreated], "server.py")
	assert.Contains(t, byCategory[types.FactErrorFixed], "ImportError")
	assert.NotEmpty(t, byCategory[types.FactDecision])
}

func TestExtractNilClientUsesHeuristics(t *testing.T) {
	e := New(nil, 0)

	facts := e.Extract(context.Background(), []types.Turn{
		assistantTurn(2, "Updated handlers.go to return JSON errors."),
	})
	require.NotEmpty(t, facts)
	assert.Equal(t, types.FactFileModified, facts[0].Category)
	assert.Equal(t, "handlers.go", facts[0].Subject)
}

func TestExtractEmptyTurns(t *testing.T) {
	e := New(stubClient{text: "{}"}, 0)
	assert.Nil(t, e.Extract(context.Background(), nil))
}

func TestExtractNoFactsIsNotAnError(t *testing.T) {
	e := New(stubClient{text: ""}, 0)
	facts := e.Extract(context.Background(), []types.Turn{userTurn(1, "hello there")})
	assert.Empty(t, facts)
}

func TestDedupKeyNormalization(t *testing.T) {
	assert.Equal(t, "file-created:app.py", DedupKey(types.FactFileCreated, "  App.PY "))
	assert.Equal(t,
		DedupKey(types.FactDecision, "Use   SQLite"),
		DedupKey(types.FactDecision, "use sqlite"))
	assert.NotEqual(t,
		DedupKey(types.FactFileCreated, "app.py"),
		DedupKey(types.FactFileModified, "app.py"),
		"category is part of the key")
}
