package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bujji/internal/embedding"
	"bujji/internal/logging"
	"bujji/internal/types"
)

// Filters narrows a query to a path prefix and/or language tag.
type Filters struct {
	PathPrefix string
	Language   string
}

// Hybrid ranking weights. Cosine similarity dominates; keyword presence in
// symbol, content and path nudges near-ties the way a grep would.
const (
	weightSemantic = 0.55
	weightSymbol   = 0.20
	weightContent  = 0.15
	weightPath     = 0.10
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "in": true,
	"on": true, "of": true, "to": true, "is": true, "it": true, "for": true,
	"with": true, "this": true, "that": true, "how": true, "what": true,
	"can": true, "do": true, "does": true, "my": true, "me": true,
}

// Query returns the k chunks closest to the query text under the hybrid
// score. Results are deterministic for a fixed index version: ties break by
// newer indexing first, then lexicographically smaller chunk id.
func (idx *Index) Query(ctx context.Context, text string, k int, filters Filters) (types.RetrievalResult, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Query")
	defer timer.Stop()

	snap := idx.snap.Load()
	if snap == nil || len(snap.entries) == 0 {
		return types.RetrievalResult{}, ErrUnavailable
	}
	if idx.engine == nil {
		return types.RetrievalResult{}, ErrUnavailable
	}
	if k <= 0 {
		k = 10
	}

	queryVec, err := idx.engine.Embed(ctx, text)
	if err != nil {
		return types.RetrievalResult{}, fmt.Errorf("%w: query embedding failed: %v", ErrUnavailable, err)
	}
	keywords := queryKeywords(text)

	type scored struct {
		en    *entry
		score float64
	}
	var candidates []scored
	for _, en := range snap.entries {
		c := &en.chunk
		if filters.PathPrefix != "" && !strings.HasPrefix(c.Path, filters.PathPrefix) {
			continue
		}
		if filters.Language != "" && c.Language != filters.Language {
			continue
		}

		cos, err := embedding.CosineSimilarity(queryVec, en.vec)
		if err != nil {
			continue
		}
		candidates = append(candidates, scored{en: en, score: hybridScore(cos, keywords, c)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].en.indexedVersion != candidates[j].en.indexedVersion {
			return candidates[i].en.indexedVersion > candidates[j].en.indexedVersion
		}
		return candidates[i].en.chunk.ID < candidates[j].en.chunk.ID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	result := types.RetrievalResult{
		Query:        text,
		IndexVersion: snap.version,
		Chunks:       make([]types.ScoredChunk, len(candidates)),
	}
	for i, cand := range candidates {
		result.Chunks[i] = types.ScoredChunk{
			ChunkID: cand.en.chunk.ID,
			Path:    cand.en.chunk.Path,
			Score:   cand.score,
			Content: cand.en.chunk.Content,
		}
	}

	logging.RetrievalDebug("query returned %d/%d candidates (version=%d)", len(result.Chunks), len(snap.entries), snap.version)
	return result, nil
}

// Related answers "what calls or imports this chunk's top-level symbol" as
// an unordered set of chunk ids, excluding the chunk itself.
func (idx *Index) Related(chunkID string) []string {
	snap := idx.snap.Load()
	if snap == nil {
		return nil
	}
	en, ok := snap.entries[chunkID]
	if !ok || en.chunk.Symbol == "" {
		return nil
	}

	set := make(map[string]bool)
	for _, id := range snap.callers[en.chunk.Symbol] {
		if id != chunkID {
			set[id] = true
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func hybridScore(cosine float64, keywords []string, c *types.CodeChunk) float64 {
	if len(keywords) == 0 {
		return weightSemantic * cosine
	}

	contentLower := strings.ToLower(c.Content)
	symbolLower := strings.ToLower(c.Symbol)
	pathLower := strings.ToLower(c.Path)

	var symbolHits, contentHits, pathHits int
	for _, w := range keywords {
		if symbolLower != "" && strings.Contains(symbolLower, w) {
			symbolHits++
		}
		if strings.Contains(contentLower, w) {
			contentHits++
		}
		if strings.Contains(pathLower, w) {
			pathHits++
		}
	}
	n := float64(len(keywords))
	return weightSemantic*cosine +
		weightSymbol*(float64(symbolHits)/n) +
		weightContent*(float64(contentHits)/n) +
		weightPath*(float64(pathHits)/n)
}

// queryKeywords lowercases and stop-word-filters the query terms.
func queryKeywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_')
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 2 && !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}
