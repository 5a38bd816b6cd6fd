// Package summarize collapses runs of older turns into short narrative
// summaries. Facts remain the authoritative store for file names and
// decisions; the summary is a best-effort safety net, so the compression
// prompt still asks for them verbatim.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bujji/internal/llm"
	"bujji/internal/logging"
	"bujji/internal/types"
)

// Summarizer produces merge-forward summaries via a model-backed
// compression pass.
type Summarizer struct {
	client  llm.Client
	timeout time.Duration
}

// New creates a summarizer.
func New(client llm.Client, timeout time.Duration) *Summarizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Summarizer{client: client, timeout: timeout}
}

const summaryPrompt = `Summarize this conversation history into a compact narrative (max 200 words).
Preserve verbatim where possible:
1. File names and paths mentioned
2. Decisions made and why
3. Open action items and unresolved errors
4. Key code symbols (functions, classes) discussed
%s
Conversation:
%s
Summary:`

// Summarize compresses block into a single summary. When prior covers the
// range immediately before the block, its text is folded into the pass and
// the returned summary covers the union — one summary replaces both, so
// summaries never chain.
//
// The block must be contiguous and non-empty. Failure returns an error; the
// caller owns the truncation fallback.
func (s *Summarizer) Summarize(ctx context.Context, prior *types.Summary, block []types.Turn) (types.Summary, error) {
	if len(block) == 0 {
		return types.Summary{}, fmt.Errorf("summarize: empty block")
	}

	lo := block[0].Seq
	hi := block[len(block)-1].Seq
	sessionID := block[0].SessionID

	existing := ""
	if prior != nil {
		if prior.Hi+1 != block[0].Seq {
			return types.Summary{}, fmt.Errorf("summarize: prior range [%d,%d] not adjacent to block start %d",
				prior.Lo, prior.Hi, block[0].Seq)
		}
		lo = prior.Lo
		existing = fmt.Sprintf("\nEarlier summary (fold this in):\n%s\n", prior.Text)
	}

	var sb strings.Builder
	for _, t := range block {
		fmt.Fprintf(&sb, "[%s] %s\n", t.Role, t.Text)
	}

	result := llm.CompleteBounded(ctx, s.client, fmt.Sprintf(summaryPrompt, existing, sb.String()), s.timeout)
	if !result.OK() {
		return types.Summary{}, fmt.Errorf("summarization call failed: %w", result.Err)
	}
	if strings.TrimSpace(result.Text) == "" {
		return types.Summary{}, fmt.Errorf("summarization returned empty text")
	}

	logging.Context("summarized turns [%d,%d] for session %s (%d chars)", lo, hi, sessionID, len(result.Text))
	return types.Summary{
		SessionID: sessionID,
		Lo:        lo,
		Hi:        hi,
		Text:      strings.TrimSpace(result.Text),
		CreatedAt: time.Now().UTC(),
	}, nil
}
