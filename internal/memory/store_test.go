package memory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bujji/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenSessionIsIdempotent(t *testing.T) {
	store := openTestStore(t)

	first, err := store.OpenSession("s1", "/tmp/ws")
	require.NoError(t, err)
	second, err := store.OpenSession("s1", "/tmp/other")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "/tmp/ws", second.Workspace, "reopening must not overwrite the session")
	assert.Equal(t, int64(1), second.NextSeq)
}

func TestAppendTurnAssignsDenseSequence(t *testing.T) {
	store := openTestStore(t)
	_, err := store.OpenSession("s1", "/tmp/ws")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		role := types.RoleUser
		if i%2 == 0 {
			role = types.RoleAssistant
		}
		turn, err := store.AppendTurn("s1", role, "turn text")
		require.NoError(t, err)
		assert.Equal(t, int64(i), turn.Seq)
	}

	turns, err := store.TurnsInRange("s1", 1, -1)
	require.NoError(t, err)
	require.Len(t, turns, 5)
	for i, turn := range turns {
		assert.Equal(t, int64(i+1), turn.Seq, "turns must come back in sequence order")
	}

	last, err := store.LastSeq("s1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)
}

func TestAppendTurnUnknownSession(t *testing.T) {
	store := openTestStore(t)
	_, err := store.AppendTurn("missing", types.RoleUser, "hello")
	assert.Error(t, err)
}

func TestTurnsInRangeBounds(t *testing.T) {
	store := openTestStore(t)
	_, err := store.OpenSession("s1", "/tmp/ws")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := store.AppendTurn("s1", types.RoleUser, "t")
		require.NoError(t, err)
	}

	turns, err := store.TurnsInRange("s1", 3, 7)
	require.NoError(t, err)
	require.Len(t, turns, 5)
	assert.Equal(t, int64(3), turns[0].Seq)
	assert.Equal(t, int64(7), turns[4].Seq)
}

func TestFactDedupLastWriteWins(t *testing.T) {
	store := openTestStore(t)
	_, err := store.OpenSession("s1", "/tmp/ws")
	require.NoError(t, err)

	first := types.Fact{
		SessionID: "s1",
		Category:  types.FactFileCreated,
		Subject:   "app.py",
		Detail:    "initial scaffold",
		SourceSeq: 3,
		FirstSeq:  3,
		DedupKey:  "file-created:app.py",
	}
	require.NoError(t, store.UpsertFact(first))

	second := first
	second.Detail = "rewritten with blueprints"
	second.SourceSeq = 9
	second.FirstSeq = 9
	require.NoError(t, store.UpsertFact(second))

	facts, err := store.Facts("s1")
	require.NoError(t, err)
	require.Len(t, facts, 1, "same dedup key must collapse to one fact")
	assert.Equal(t, "rewritten with blueprints", facts[0].Detail)
	assert.Equal(t, int64(9), facts[0].SourceSeq)
	assert.Equal(t, int64(3), facts[0].FirstSeq, "original sequence number must be retained")
}

func TestFactsOrderedByRecency(t *testing.T) {
	store := openTestStore(t)
	_, err := store.OpenSession("s1", "/tmp/ws")
	require.NoError(t, err)

	for i, key := range []string{"decision:use sqlite", "file-created:main.go", "constraint:no cgo"} {
		require.NoError(t, store.UpsertFact(types.Fact{
			SessionID: "s1",
			Category:  types.FactDecision,
			Subject:   key,
			SourceSeq: int64(i + 1),
			FirstSeq:  int64(i + 1),
			DedupKey:  key,
		}))
	}

	facts, err := store.Facts("s1")
	require.NoError(t, err)
	require.Len(t, facts, 3)
	assert.Equal(t, int64(3), facts[0].SourceSeq, "newest fact first")
	assert.Equal(t, int64(1), facts[2].SourceSeq)
}

func TestReplaceSummaryMergesCoveredRanges(t *testing.T) {
	store := openTestStore(t)
	_, err := store.OpenSession("s1", "/tmp/ws")
	require.NoError(t, err)

	require.NoError(t, store.ReplaceSummary(types.Summary{
		SessionID: "s1", Lo: 1, Hi: 10, Text: "first block", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.ReplaceSummary(types.Summary{
		SessionID: "s1", Lo: 11, Hi: 20, Text: "second block", CreatedAt: time.Now().UTC(),
	}))

	// Merge-forward: one summary replaces both covered ranges.
	require.NoError(t, store.ReplaceSummary(types.Summary{
		SessionID: "s1", Lo: 1, Hi: 20, Text: "merged", CreatedAt: time.Now().UTC(),
	}))

	summaries, err := store.Summaries("s1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(1), summaries[0].Lo)
	assert.Equal(t, int64(20), summaries[0].Hi)
	assert.Equal(t, "merged", summaries[0].Text)

	through, err := store.SummarizedThrough("s1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), through)
}

func TestSummarizedThroughEmpty(t *testing.T) {
	store := openTestStore(t)
	_, err := store.OpenSession("s1", "/tmp/ws")
	require.NoError(t, err)

	through, err := store.SummarizedThrough("s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), through)
}

func TestSessionMemoryReturnsBoth(t *testing.T) {
	store := openTestStore(t)
	_, err := store.OpenSession("s1", "/tmp/ws")
	require.NoError(t, err)

	require.NoError(t, store.ReplaceSummary(types.Summary{
		SessionID: "s1", Lo: 1, Hi: 5, Text: "setup work", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.UpsertFact(types.Fact{
		SessionID: "s1", Category: types.FactDecision, Subject: "sqlite",
		SourceSeq: 4, FirstSeq: 4, DedupKey: "decision:sqlite",
	}))

	summaries, facts, err := store.SessionMemory("s1")
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
	assert.Len(t, facts, 1)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")

	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.OpenSession("s1", "/tmp/ws")
	require.NoError(t, err)
	_, err = store.AppendTurn("s1", types.RoleUser, "remember me")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	turns, err := reopened.TurnsInRange("s1", 1, -1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "remember me", turns[0].Text)

	sess, err := reopened.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), sess.NextSeq)
}

func TestListSessions(t *testing.T) {
	store := openTestStore(t)
	for _, id := range []string{"a", "b"} {
		_, err := store.OpenSession(id, "/tmp/ws")
		require.NoError(t, err)
	}
	sessions, err := store.ListSessions()
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
