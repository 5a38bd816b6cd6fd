package retrieval

import (
	"context"
	"crypto/sha256"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bujji/internal/types"
)

// stubEngine produces near-identical vectors with a tiny text-dependent
// perturbation: cosine similarity stays ~1 for everything, so the keyword
// components of the hybrid score decide rankings deterministically.
type stubEngine struct{}

func (stubEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := []float32{1, 1, 1, 1, 1, 1, 1, 1}
	vec[7] += float32(sum[0]) / 255.0 * 0.001
	return vec, nil
}

func (stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i], _ = stubEngine{}.Embed(ctx, t)
	}
	return vecs, nil
}

func (stubEngine) Dimensions() int { return 8 }
func (stubEngine) Name() string    { return "stub" }

// failingEngine errors on every call.
type failingEngine struct{ stubEngine }

func (failingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("backend down")
}

func testChunk(id, path, symbol, content string) types.CodeChunk {
	return types.CodeChunk{
		ID: id, Path: path, Language: "go", Symbol: symbol, Kind: "function",
		StartByte: 0, EndByte: len(content), StartLine: 1, EndLine: 1,
		Content: content, ContentHash: id,
	}
}

func vecsFor(t *testing.T, chunks []types.CodeChunk) [][]float32 {
	t.Helper()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := stubEngine{}.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	return vecs
}

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(":memory:", stubEngine{})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func seedIndex(t *testing.T, idx *Index) {
	t.Helper()
	auth := []types.CodeChunk{
		testChunk("aaa1", "auth/login.go", "Login", "func Login(user, pass string) error {\n\treturn checkPassword(user, pass)\n}"),
		testChunk("aaa2", "auth/password.go", "checkPassword", "func checkPassword(user, pass string) error {\n\treturn nil\n}"),
	}
	store := []types.CodeChunk{
		testChunk("bbb1", "store/cache.go", "CacheGet", "func CacheGet(key string) ([]byte, bool) {\n\treturn nil, false\n}"),
	}
	require.NoError(t, idx.ReplaceFile("auth/login.go", auth[:1], vecsFor(t, auth[:1]), []types.SymbolEdge{
		{Kind: "calls", Path: "auth/login.go", FromSymbol: "Login", ToSymbol: "checkPassword"},
	}))
	require.NoError(t, idx.ReplaceFile("auth/password.go", auth[1:], vecsFor(t, auth[1:]), nil))
	require.NoError(t, idx.ReplaceFile("store/cache.go", store, vecsFor(t, store), nil))
	_, err := idx.Publish()
	require.NoError(t, err)
}

func TestQueryUnavailableWhenEmpty(t *testing.T) {
	idx := openTestIndex(t)
	_, err := idx.Query(context.Background(), "anything", 5, Filters{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestQueryUnavailableWithoutEngine(t *testing.T) {
	idx, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer idx.Close()

	// Seed directly so the snapshot is non-empty.
	c := testChunk("ccc1", "a.go", "A", "func A() {}")
	require.NoError(t, idx.Upsert(c, []float32{1, 0, 0, 0, 0, 0, 0, 0}))
	_, err = idx.Publish()
	require.NoError(t, err)

	_, err = idx.Query(context.Background(), "anything", 5, Filters{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestQueryEmbedFailureIsUnavailable(t *testing.T) {
	idx, err := Open(":memory:", failingEngine{})
	require.NoError(t, err)
	defer idx.Close()

	c := testChunk("ccc1", "a.go", "A", "func A() {}")
	require.NoError(t, idx.Upsert(c, []float32{1, 0, 0, 0, 0, 0, 0, 0}))
	_, err = idx.Publish()
	require.NoError(t, err)

	_, err = idx.Query(context.Background(), "anything", 5, Filters{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestQueryDeterministic(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx)

	first, err := idx.Query(context.Background(), "password check in login", 10, Filters{})
	require.NoError(t, err)
	second, err := idx.Query(context.Background(), "password check in login", 10, Filters{})
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("identical queries against one version must match (-first +second):\n%s", diff)
	}
	assert.Equal(t, idx.Version(), first.IndexVersion)
}

func TestQueryKeywordBoost(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx)

	result, err := idx.Query(context.Background(), "checkPassword", 3, Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)
	assert.Equal(t, "auth/password.go", result.Chunks[0].Path,
		"chunk defining the queried symbol should rank first")
}

func TestQueryFilters(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx)

	result, err := idx.Query(context.Background(), "cache lookup", 10, Filters{PathPrefix: "store/"})
	require.NoError(t, err)
	for _, c := range result.Chunks {
		assert.True(t, c.Path[:6] == "store/", "filter must exclude %s", c.Path)
	}
	require.Len(t, result.Chunks, 1)

	result, err = idx.Query(context.Background(), "cache lookup", 10, Filters{Language: "rust"})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
}

func TestQueryRespectsK(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx)

	result, err := idx.Query(context.Background(), "func", 2, Filters{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Chunks), 2)
}

func TestRelatedFollowsCallEdges(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx)

	related := idx.Related("aaa2") // checkPassword
	assert.Contains(t, related, "aaa1", "Login calls checkPassword, so its chunk is related")
	assert.NotContains(t, related, "aaa2", "a chunk is never related to itself")

	assert.Empty(t, idx.Related("bbb1"), "no callers recorded for CacheGet")
	assert.Empty(t, idx.Related("missing"))
}

func TestReplaceFileRemovesStaleChunks(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx)

	replacement := []types.CodeChunk{
		testChunk("aaa9", "auth/login.go", "Login", "func Login(token string) error {\n\treturn validateToken(token)\n}"),
	}
	require.NoError(t, idx.ReplaceFile("auth/login.go", replacement, vecsFor(t, replacement), nil))
	_, err := idx.Publish()
	require.NoError(t, err)

	ids := idx.ChunkIDsForFile("auth/login.go")
	assert.Equal(t, []string{"aaa9"}, ids)
	_, ok := idx.Chunk("aaa1")
	assert.False(t, ok, "stale chunk must be gone after publish")
}

func TestDeleteFileClearsChunksAndEdges(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx)

	require.NoError(t, idx.DeleteFile("auth/login.go"))
	_, err := idx.Publish()
	require.NoError(t, err)

	assert.Empty(t, idx.ChunkIDsForFile("auth/login.go"))
	assert.Empty(t, idx.Related("aaa2"), "edges from the deleted file must be gone")
}

func TestPublishVersionMonotonicAndPersistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := Open(path, stubEngine{})
	require.NoError(t, err)
	seedIndex(t, idx)
	v1 := idx.Version()
	_, err = idx.Publish()
	require.NoError(t, err)
	v2 := idx.Version()
	assert.Greater(t, v2, v1)
	require.NoError(t, idx.Close())

	reopened, err := Open(path, stubEngine{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, v2, reopened.Version(), "published version must survive restarts")
	assert.NotEmpty(t, reopened.ChunkIDsForFile("auth/login.go"))

	result, err := reopened.Query(context.Background(), "login", 5, Filters{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Chunks)
}

func TestReplaceFileUnchangedKeepsRecencyAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := Open(path, stubEngine{})
	require.NoError(t, err)

	// Identical content in both files: equal hybrid scores, so ordering
	// rests entirely on the (indexed version, chunk id) tie-break.
	content := "func Render(w io.Writer) error {\n\treturn nil\n}"
	aaa := []types.CodeChunk{testChunk("aaa", "a.go", "Render", content)}
	zzz := []types.CodeChunk{testChunk("zzz", "z.go", "Render", content)}
	require.NoError(t, idx.ReplaceFile("a.go", aaa, vecsFor(t, aaa), nil))
	require.NoError(t, idx.ReplaceFile("z.go", zzz, vecsFor(t, zzz), nil))
	_, err = idx.Publish()
	require.NoError(t, err)

	// Reindex z.go without changes: its chunk id is unchanged and must
	// keep its original indexed version, durably.
	require.NoError(t, idx.ReplaceFile("z.go", zzz, vecsFor(t, zzz), nil))
	_, err = idx.Publish()
	require.NoError(t, err)

	before, err := idx.Query(context.Background(), "render", 10, Filters{})
	require.NoError(t, err)
	require.Len(t, before.Chunks, 2)
	assert.Equal(t, "aaa", before.Chunks[0].ChunkID)
	require.NoError(t, idx.Close())

	reopened, err := Open(path, stubEngine{})
	require.NoError(t, err)
	defer reopened.Close()

	after, err := reopened.Query(context.Background(), "render", 10, Filters{})
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("same index version must return the same ordered results after a restart (-before +after):\n%s", diff)
	}
}

func TestQueryWhileReplacingUsesConsistentSnapshot(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx)

	before, err := idx.Query(context.Background(), "login", 10, Filters{})
	require.NoError(t, err)

	// Mutate without publishing: queries must still see the old snapshot.
	replacement := []types.CodeChunk{
		testChunk("zzz1", "auth/login.go", "Login", "totally new"),
	}
	require.NoError(t, idx.ReplaceFile("auth/login.go", replacement, vecsFor(t, replacement), nil))

	after, err := idx.Query(context.Background(), "login", 10, Filters{})
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("unpublished writes leaked into query results (-before +after):\n%s", diff)
	}
}
