// Package assembler builds the bounded, ordered context handed to the model
// on every turn. The stages run strictly in sequence: budget resolution,
// fixed segments, retrieval, facts, history (with progressive summarization
// on overflow), then the hard budget invariant check.
//
// Inclusion priority is system > recent history > summary > facts >
// retrieved code; under overflow, eviction runs that order in reverse with
// system exempt. Losing recent dialogue breaks coherence immediately, losing
// code context only degrades suggestion quality.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"bujji/internal/config"
	"bujji/internal/extract"
	"bujji/internal/logging"
	"bujji/internal/memory"
	"bujji/internal/retrieval"
	"bujji/internal/summarize"
	"bujji/internal/tokens"
	"bujji/internal/types"
)

// TurnRequest describes one incoming turn to assemble context for.
type TurnRequest struct {
	SessionID   string
	Text        string
	ModelFamily string
	// EditTarget is the file path a code-edit request is aimed at; it is
	// folded into the retrieval query so the target file's chunks rank.
	EditTarget string
}

// Assembler orchestrates context assembly and post-turn memory updates.
type Assembler struct {
	cfg        *config.Config
	est        *tokens.Estimator
	store      *memory.Store
	index      *retrieval.Index // nil when no index is configured
	summarizer *summarize.Summarizer
	extractor  *extract.Extractor

	rules     string
	rulesOnce sync.Once

	// Per-session serialization: one assembler run (including any
	// triggered summarization) completes before the next turn for the
	// same session begins.
	sessMu   sync.Mutex
	sessions map[string]*sync.Mutex
}

// New wires an assembler. index may be nil; retrieval then degrades to an
// empty segment.
func New(cfg *config.Config, est *tokens.Estimator, store *memory.Store, idx *retrieval.Index,
	summarizer *summarize.Summarizer, extractor *extract.Extractor) *Assembler {
	return &Assembler{
		cfg:        cfg,
		est:        est,
		store:      store,
		index:      idx,
		summarizer: summarizer,
		extractor:  extractor,
		sessions:   make(map[string]*sync.Mutex),
	}
}

func (a *Assembler) sessionLock(id string) *sync.Mutex {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	if mu, ok := a.sessions[id]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	a.sessions[id] = mu
	return mu
}

func (a *Assembler) rulesText() string {
	a.rulesOnce.Do(func() {
		text, err := a.cfg.RulesText()
		if err != nil {
			logging.Context("rules file unreadable, continuing without: %v", err)
			return
		}
		a.rules = text
	})
	return a.rules
}

// Assemble produces the ContextBundle for one turn. Apart from summary
// replacement (which is transactional and invariant-preserving on its own),
// nothing is written until the bundle is final; an abandoned run leaves the
// memory store untouched.
func (a *Assembler) Assemble(ctx context.Context, req TurnRequest) (*types.ContextBundle, error) {
	mu := a.sessionLock(req.SessionID)
	mu.Lock()
	defer mu.Unlock()

	timer := logging.StartTimer(logging.CategoryContext, "Assemble")
	defer timer.Stop()

	if _, err := a.store.OpenSession(req.SessionID, a.cfg.Workspace); err != nil {
		return nil, err
	}

	// Stage 1: budget resolution.
	mb, err := a.cfg.Models.Budget(req.ModelFamily)
	if err != nil {
		return nil, &ConfigurationError{Family: req.ModelFamily, Err: err}
	}
	budget := mb.MaxContextTokens - mb.OutputReserve

	// Stage 2: fixed segments, always included, never truncated.
	fixed := a.fixedSegments(req.ModelFamily)
	fixedTokens := 0
	for _, s := range fixed {
		fixedTokens += s.Tokens
	}
	if fixedTokens > budget {
		return nil, &ConfigurationError{Family: req.ModelFamily, FixedTokens: fixedTokens, Budget: budget}
	}
	remaining := budget - fixedTokens

	// Stage 3: retrieval, greedy by descending score into its sub-budget.
	retrievalSegs := a.retrievalSegments(ctx, req, int(float64(remaining)*a.cfg.Context.RetrievalFraction))

	// Stage 4: facts, most recent sequence number first into theirs.
	factsSegs, err := a.factsSegments(req, int(float64(remaining)*a.cfg.Context.FactsFraction))
	if err != nil {
		return nil, err
	}

	used := 0
	for _, s := range retrievalSegs {
		used += s.Tokens
	}
	for _, s := range factsSegs {
		used += s.Tokens
	}

	// Stage 5: history fills whatever is left, summarizing overflow.
	summarySegs, historySegs, err := a.historySegments(ctx, req, remaining-used)
	if err != nil {
		return nil, err
	}

	bundle := &types.ContextBundle{
		SessionID:   req.SessionID,
		ModelFamily: req.ModelFamily,
		Budget:      budget,
	}
	bundle.Segments = append(bundle.Segments, fixed...)
	bundle.Segments = append(bundle.Segments, retrievalSegs...)
	bundle.Segments = append(bundle.Segments, factsSegs...)
	bundle.Segments = append(bundle.Segments, summarySegs...)
	bundle.Segments = append(bundle.Segments, historySegs...)

	// Stage 6: hard invariant. Estimator drift is handled here, logged,
	// never propagated.
	a.enforceBudget(bundle)

	logging.Context("assembled bundle: session=%s family=%s segments=%d tokens=%d/%d",
		req.SessionID, req.ModelFamily, len(bundle.Segments), bundle.TotalTokens(), budget)
	return bundle, nil
}

func (a *Assembler) fixedSegments(family string) []types.Segment {
	segs := []types.Segment{{
		Kind:   types.SegmentSystem,
		Text:   a.cfg.Context.SystemPrompt,
		Tokens: a.est.Estimate(a.cfg.Context.SystemPrompt, family),
	}}
	if rules := a.rulesText(); rules != "" {
		segs = append(segs, types.Segment{
			Kind:   types.SegmentSystem,
			Text:   rules,
			Tokens: a.est.Estimate(rules, family),
		})
	}
	return segs
}

// retrievalSegments queries the index and fills the sub-budget greedily.
// An unavailable index degrades to no segments, logged, never an error.
func (a *Assembler) retrievalSegments(ctx context.Context, req TurnRequest, subBudget int) []types.Segment {
	if a.index == nil || subBudget <= 0 {
		return nil
	}

	query := req.Text
	if req.EditTarget != "" {
		query += "\n" + req.EditTarget
	}
	result, err := a.index.Query(ctx, query, a.cfg.Context.RetrievalTopK, retrieval.Filters{})
	if err != nil {
		if errors.Is(err, retrieval.ErrUnavailable) {
			logging.Context("retrieval unavailable, assembling without code context: %v", err)
			return nil
		}
		logging.Context("retrieval failed, assembling without code context: %v", err)
		return nil
	}

	candidates := result.Chunks
	// Symbol graph side-channel: chunks that call or import the top hit
	// are direct dependents worth carrying even when not semantically
	// closest.
	if len(candidates) > 0 {
		seen := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			seen[c.ChunkID] = true
		}
		related := a.index.Related(candidates[0].ChunkID)
		sort.Strings(related)
		for _, id := range related {
			if seen[id] {
				continue
			}
			if chunk, ok := a.index.Chunk(id); ok {
				candidates = append(candidates, types.ScoredChunk{
					ChunkID: id, Path: chunk.Path, Content: chunk.Content,
				})
			}
		}
	}

	var segs []types.Segment
	usedTokens := 0
	for _, c := range candidates {
		text := fmt.Sprintf("// %s\n%s", c.Path, c.Content)
		t := a.est.Estimate(text, req.ModelFamily)
		if usedTokens+t > subBudget {
			continue
		}
		usedTokens += t
		segs = append(segs, types.Segment{Kind: types.SegmentRetrievedCode, Text: text, Tokens: t})
	}
	return segs
}

// factsSegments injects live facts newest-first until the sub-budget is
// filled; the rest stay in the store for future turns.
func (a *Assembler) factsSegments(req TurnRequest, subBudget int) ([]types.Segment, error) {
	if subBudget <= 0 {
		return nil, nil
	}
	facts, err := a.store.Facts(req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	if len(facts) == 0 {
		return nil, nil
	}

	var lines []string
	usedTokens := 0
	for _, f := range facts {
		line := fmt.Sprintf("- [%s] %s", f.Category, f.Subject)
		if f.Detail != "" {
			line += ": " + f.Detail
		}
		t := a.est.Estimate(line, req.ModelFamily)
		if usedTokens+t > subBudget {
			break
		}
		usedTokens += t
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, nil
	}

	text := "Known facts from this session:\n" + strings.Join(lines, "\n")
	return []types.Segment{{
		Kind:   types.SegmentFacts,
		Text:   text,
		Tokens: a.est.Estimate(text, req.ModelFamily),
	}}, nil
}

// historySegments selects the newest turns that fit, triggers the
// progressive summarizer for the overflow block, and returns summary
// segments followed by chronological verbatim turns (the incoming turn
// last).
func (a *Assembler) historySegments(ctx context.Context, req TurnRequest, subBudget int) (summarySegs, historySegs []types.Segment, err error) {
	summarizedThrough, err := a.store.SummarizedThrough(req.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read summaries: %w", err)
	}
	tail, err := a.store.TurnsInRange(req.SessionID, summarizedThrough+1, -1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read turns: %w", err)
	}

	// The incoming turn is always included and is not yet persisted.
	currentText := formatTurn(types.RoleUser, req.Text)
	currentTokens := a.est.Estimate(currentText, req.ModelFamily) + tokens.TurnOverhead

	// Newest-first selection of stored tail turns into what remains.
	turnBudget := subBudget - currentTokens
	fit := 0
	usedTokens := 0
	for i := len(tail) - 1; i >= 0; i-- {
		t := a.est.Estimate(formatTurn(tail[i].Role, tail[i].Text), req.ModelFamily) + tokens.TurnOverhead
		if usedTokens+t > turnBudget {
			break
		}
		usedTokens += t
		fit++
	}

	verbatim := tail
	if fit < len(tail) {
		// Overflow: summarize everything except the preserved recent
		// window (or the larger fitting suffix, so turns that fit are
		// never summarized away).
		keep := fit
		if keep < a.cfg.Context.PreserveRecent {
			keep = a.cfg.Context.PreserveRecent
		}
		if keep > len(tail) {
			keep = len(tail)
		}
		block := tail[:len(tail)-keep]
		verbatim = tail[len(tail)-keep:]

		if len(block) > 0 {
			a.compressBlock(ctx, req.SessionID, block)
		}
	}

	summaries, err := a.store.Summaries(req.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read summaries: %w", err)
	}
	for _, s := range summaries {
		text := fmt.Sprintf("Earlier conversation (turns %d-%d, summarized):\n%s", s.Lo, s.Hi, s.Text)
		summarySegs = append(summarySegs, types.Segment{
			Kind:   types.SegmentSummary,
			Text:   text,
			Tokens: a.est.Estimate(text, req.ModelFamily),
		})
	}

	// Chronological assembly of the verbatim window.
	for _, t := range verbatim {
		text := formatTurn(t.Role, t.Text)
		historySegs = append(historySegs, types.Segment{
			Kind:   types.SegmentRecentTurn,
			Text:   text,
			Tokens: a.est.Estimate(text, req.ModelFamily) + tokens.TurnOverhead,
		})
	}
	historySegs = append(historySegs, types.Segment{
		Kind:   types.SegmentRecentTurn,
		Text:   currentText,
		Tokens: currentTokens,
	})
	return summarySegs, historySegs, nil
}

// compressBlock merges the overflow block into the session summary. On
// failure the block is dropped from this bundle instead — a logged, lossy
// degradation, never a hard failure.
func (a *Assembler) compressBlock(ctx context.Context, sessionID string, block []types.Turn) {
	var prior *types.Summary
	summaries, err := a.store.Summaries(sessionID)
	if err == nil {
		for i := range summaries {
			if summaries[i].Hi+1 == block[0].Seq {
				prior = &summaries[i]
			}
		}
	}

	sum, err := a.summarizer.Summarize(ctx, prior, block)
	if err != nil {
		logging.Context("summarization degraded, dropping turns [%d,%d]: %v",
			block[0].Seq, block[len(block)-1].Seq, err)
		return
	}
	if err := a.store.ReplaceSummary(sum); err != nil {
		logging.Context("summary write failed, dropping turns [%d,%d]: %v",
			block[0].Seq, block[len(block)-1].Seq, err)
	}
}

// enforceBudget drops lowest-priority segments until the bundle fits:
// retrieved code first, then facts, then summaries, then oldest history.
// System segments are never dropped.
func (a *Assembler) enforceBudget(bundle *types.ContextBundle) {
	if bundle.TotalTokens() <= bundle.Budget {
		return
	}
	logging.Context("estimator drift: bundle %d tokens over budget %d, evicting",
		bundle.TotalTokens(), bundle.Budget)

	for _, kind := range []types.SegmentKind{
		types.SegmentRetrievedCode,
		types.SegmentFacts,
		types.SegmentSummary,
		types.SegmentRecentTurn,
	} {
		for bundle.TotalTokens() > bundle.Budget {
			if !dropFirst(bundle, kind) {
				break
			}
		}
		if bundle.TotalTokens() <= bundle.Budget {
			return
		}
	}
}

// dropFirst removes the first (lowest-value: least similar, least recent)
// segment of the given kind. For recent turns the first is the oldest; the
// final segment of the bundle — the incoming turn — is kept whenever any
// other choice remains.
func dropFirst(bundle *types.ContextBundle, kind types.SegmentKind) bool {
	for i, s := range bundle.Segments {
		if s.Kind != kind {
			continue
		}
		if kind == types.SegmentRecentTurn && i == len(bundle.Segments)-1 && len(bundle.Segments) > 1 {
			// Only the incoming turn is left in this class.
			return false
		}
		bundle.Segments = append(bundle.Segments[:i], bundle.Segments[i+1:]...)
		return true
	}
	return false
}

// CompleteTurn persists the finished exchange and feeds it to the facts
// extractor. Called after the model responds; independent of any in-flight
// assembly for other turns.
func (a *Assembler) CompleteTurn(ctx context.Context, sessionID, userText, assistantText string) error {
	mu := a.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := a.store.OpenSession(sessionID, a.cfg.Workspace); err != nil {
		return err
	}
	userTurn, err := a.store.AppendTurn(sessionID, types.RoleUser, userText)
	if err != nil {
		return fmt.Errorf("failed to persist user turn: %w", err)
	}
	assistantTurn, err := a.store.AppendTurn(sessionID, types.RoleAssistant, assistantText)
	if err != nil {
		return fmt.Errorf("failed to persist assistant turn: %w", err)
	}

	// Extraction failures degrade to zero facts inside the extractor.
	for _, f := range a.extractor.Extract(ctx, []types.Turn{userTurn, assistantTurn}) {
		if err := a.store.UpsertFact(f); err != nil {
			logging.Context("fact upsert failed (key=%s): %v", f.DedupKey, err)
		}
	}
	return nil
}

// SessionMemory exposes a session's summaries and facts for cross-session
// warm starts.
func (a *Assembler) SessionMemory(sessionID string) ([]types.Summary, []types.Fact, error) {
	return a.store.SessionMemory(sessionID)
}

func formatTurn(role types.Role, text string) string {
	return fmt.Sprintf("[%s] %s", role, text)
}
