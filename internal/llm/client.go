// Package llm abstracts the model-backed calls used by summarization and
// fact extraction behind a single capability interface. Callers never branch
// on provider identity; the tagged Result distinguishes success from
// timeout/failure so degradation logic stays in one place.
package llm

import (
	"context"
	"errors"
	"time"

	"bujji/internal/logging"
)

// Client is the minimal completion capability.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ErrTimeout marks a completion that exceeded its deadline.
var ErrTimeout = errors.New("llm: completion timed out")

// Result is the tagged outcome of a bounded completion call.
type Result struct {
	Text     string
	Err      error
	TimedOut bool
}

// OK reports whether the call produced usable text.
func (r Result) OK() bool {
	return r.Err == nil
}

// CompleteBounded runs one completion with an explicit timeout and maps the
// outcome into a Result. A nil client is reported as a failure, not a panic.
func CompleteBounded(ctx context.Context, c Client, prompt string, timeout time.Duration) Result {
	if c == nil {
		return Result{Err: errors.New("llm: no client configured")}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	text, err := c.Complete(cctx, prompt)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded)
		if timedOut {
			err = ErrTimeout
		}
		logging.LLM("completion failed after %v: %v", time.Since(start), err)
		return Result{Err: err, TimedOut: timedOut}
	}

	logging.LLM("completion ok: %d chars in %v", len(text), time.Since(start))
	return Result{Text: text}
}
