// Package tokens provides approximate token counting for context budget
// management. The primary path uses the cl100k_base BPE encoding for every
// model family; when the encoding cannot be initialized (offline runs), a
// calibrated characters-per-token heuristic takes over. Estimation is a pure
// function: deterministic, no I/O after construction, never fails.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"bujji/internal/types"
)

// TurnOverhead is the fixed per-message token overhead (role framing,
// separators) added when counting whole turns.
const TurnOverhead = 4

// charsPerToken calibration by model family. 4.0 is the measured ratio for
// both Claude and cl100k-family tokenizers on mixed English/code input.
var charsPerToken = map[string]float64{
	"claude":   4.0,
	"deepseek": 3.6,
	"gemini":   4.0,
}

const defaultCharsPerToken = 4.0

// Estimator converts text into an approximate token count.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator creates an estimator. Encoder initialization is lazy so
// construction itself never touches the BPE tables.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) encoder() *tiktoken.Tiktoken {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			e.enc = enc
		}
	})
	return e.enc
}

// Estimate returns the approximate token count of text for a model family.
// Returns 0 for the empty string. Monotonic non-decreasing in text length
// for a fixed family.
func (e *Estimator) Estimate(text, family string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	ratio, ok := charsPerToken[family]
	if !ok {
		ratio = defaultCharsPerToken
	}
	n := int(float64(utf8.RuneCountInString(text)) / ratio)
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateTurn counts one turn including the per-message overhead.
func (e *Estimator) EstimateTurn(t types.Turn, family string) int {
	return e.Estimate(t.Text, family) + TurnOverhead
}

// EstimateTurns counts a slice of turns.
func (e *Estimator) EstimateTurns(turns []types.Turn, family string) int {
	total := 0
	for _, t := range turns {
		total += e.EstimateTurn(t, family)
	}
	return total
}
