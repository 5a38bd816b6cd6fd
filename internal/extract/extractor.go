// Package extract derives compact structured facts from new conversation
// turns. Facts are an optimization, never required for correctness of the
// next turn: any failure in here degrades to zero facts for the pass.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"bujji/internal/llm"
	"bujji/internal/logging"
	"bujji/internal/types"
)

// Extractor runs a model-backed extraction pass over new turns only; it
// never re-scans history.
type Extractor struct {
	client  llm.Client
	timeout time.Duration
}

// New creates an extractor. A nil client disables the model pass and leaves
// only the heuristic one.
func New(client llm.Client, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Extractor{client: client, timeout: timeout}
}

const extractionPrompt = `Extract structured facts from the conversation turns below.
Return one JSON object per line, no other text. Each object:
{"category": "...", "subject": "...", "detail": "..."}
Valid categories: file-created, file-modified, function-added, class-added, error-fixed, decision, constraint.
Only include facts stated in the turns. Return nothing if there are none.

Turns:
%s`

// Extract returns zero or more facts for the given new turns.
func (e *Extractor) Extract(ctx context.Context, turns []types.Turn) []types.Fact {
	if len(turns) == 0 {
		return nil
	}
	sourceSeq := turns[len(turns)-1].Seq
	sessionID := turns[0].SessionID

	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "[%s] %s\n", t.Role, t.Text)
	}

	result := llm.CompleteBounded(ctx, e.client, fmt.Sprintf(extractionPrompt, sb.String()), e.timeout)
	if !result.OK() {
		logging.Get(logging.CategoryLLM).Debugf("fact extraction degraded to heuristics: %v", result.Err)
		return heuristicFacts(sessionID, sourceSeq, turns)
	}

	facts := parseFactLines(sessionID, sourceSeq, result.Text)
	if len(facts) == 0 {
		// Malformed or empty model output; the heuristic pass still
		// catches the cheap cases.
		return heuristicFacts(sessionID, sourceSeq, turns)
	}
	return facts
}

var validCategories = map[types.FactCategory]bool{
	types.FactFileCreated:   true,
	types.FactFileModified:  true,
	types.FactFunctionAdded: true,
	types.FactClassAdded:    true,
	types.FactErrorFixed:    true,
	types.FactDecision:      true,
	types.FactConstraint:    true,
}

// parseFactLines decodes JSON-lines model output, skipping malformed lines.
func parseFactLines(sessionID string, sourceSeq int64, text string) []types.Fact {
	var facts []types.Fact
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Trim(line, "`"))
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var raw struct {
			Category string `json:"category"`
			Subject  string `json:"subject"`
			Detail   string `json:"detail"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		cat := types.FactCategory(raw.Category)
		if !validCategories[cat] || strings.TrimSpace(raw.Subject) == "" {
			continue
		}
		facts = append(facts, newFact(sessionID, sourceSeq, cat, raw.Subject, raw.Detail))
	}
	return facts
}

// Heuristic patterns for the fallback pass.
var (
	reFileCreated  = regexp.MustCompile(`(?i)\bcreated?\s+(?:the\s+)?(?:file\s+)?` + "`?" + `([\w./-]+\.\w{1,8})` + "`?")
	reFileModified = regexp.MustCompile(`(?i)\b(?:updated?|modified|changed)\s+(?:the\s+)?(?:file\s+)?` + "`?" + `([\w./-]+\.\w{1,8})` + "`?")
	reFuncAdded    = regexp.MustCompile(`(?i)\b(?:added|implemented|wrote)\s+(?:a\s+)?function\s+` + "`?" + `(\w+)` + "`?")
	reClassAdded   = regexp.MustCompile(`(?i)\b(?:added|implemented|created)\s+(?:a\s+)?(?:class|struct|type)\s+` + "`?" + `(\w+)` + "`?")
	reErrorFixed   = regexp.MustCompile(`(?i)\bfixed\s+(?:the\s+)?` + "`?" + `([\w.:/-]+)` + "`?" + `\s+(?:error|bug|issue)`)
	reDecision     = regexp.MustCompile(`(?i)\bdecided\s+to\s+([^.\n]{4,80})`)
)

// heuristicFacts is the no-model fallback: cheap regex extraction so common
// facts still land when the model call fails or times out.
func heuristicFacts(sessionID string, sourceSeq int64, turns []types.Turn) []types.Fact {
	var facts []types.Fact
	add := func(cat types.FactCategory, subject, detail string) {
		facts = append(facts, newFact(sessionID, sourceSeq, cat, subject, detail))
	}
	for _, t := range turns {
		for _, m := range reFileCreated.FindAllStringSubmatch(t.Text, -1) {
			add(types.FactFileCreated, m[1], "")
		}
		for _, m := range reFileModified.FindAllStringSubmatch(t.Text, -1) {
			add(types.FactFileModified, m[1], "")
		}
		for _, m := range reFuncAdded.FindAllStringSubmatch(t.Text, -1) {
			add(types.FactFunctionAdded, m[1], "")
		}
		for _, m := range reClassAdded.FindAllStringSubmatch(t.Text, -1) {
			add(types.FactClassAdded, m[1], "")
		}
		for _, m := range reErrorFixed.FindAllStringSubmatch(t.Text, -1) {
			add(types.FactErrorFixed, m[1], "")
		}
		for _, m := range reDecision.FindAllStringSubmatch(t.Text, -1) {
			add(types.FactDecision, m[1], m[1])
		}
	}
	return facts
}

func newFact(sessionID string, sourceSeq int64, cat types.FactCategory, subject, detail string) types.Fact {
	subject = strings.TrimSpace(subject)
	return types.Fact{
		SessionID: sessionID,
		Category:  cat,
		Subject:   subject,
		Detail:    strings.TrimSpace(detail),
		SourceSeq: sourceSeq,
		FirstSeq:  sourceSeq,
		DedupKey:  DedupKey(cat, subject),
	}
}

// DedupKey computes the stable dedup key from category and normalized
// subject. Two facts about the same subject in the same category collide
// on purpose; the later one supersedes.
func DedupKey(cat types.FactCategory, subject string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(subject)), " ")
	return string(cat) + ":" + norm
}
