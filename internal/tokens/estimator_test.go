package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"bujji/internal/types"
)

func TestEstimateEmpty(t *testing.T) {
	est := NewEstimator()
	assert.Equal(t, 0, est.Estimate("", "claude"))
	assert.Equal(t, 0, est.Estimate("", "unknown-family"))
}

func TestEstimateNonEmptyIsPositive(t *testing.T) {
	est := NewEstimator()
	for _, text := range []string{"x", "hello world", "func main() {}\n"} {
		assert.Greater(t, est.Estimate(text, "deepseek"), 0, "text %q", text)
	}
}

func TestEstimateDeterministic(t *testing.T) {
	est := NewEstimator()
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 50)
	first := est.Estimate(text, "claude")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, est.Estimate(text, "claude"))
	}
}

func TestEstimateMonotonicInLength(t *testing.T) {
	est := NewEstimator()
	base := "package main\n\nfunc handler(w http.ResponseWriter, r *http.Request) {\n"
	prev := 0
	for i := 1; i <= 20; i++ {
		n := est.Estimate(strings.Repeat(base, i), "deepseek")
		assert.GreaterOrEqual(t, n, prev, "repeat count %d", i)
		prev = n
	}
}

func TestEstimateUnknownFamilyFallsBack(t *testing.T) {
	est := NewEstimator()
	text := strings.Repeat("some ordinary prose about a refactoring task ", 10)
	// Unknown families must still produce a usable estimate.
	assert.Greater(t, est.Estimate(text, "not-a-model"), 0)
}

func TestEstimateTurnAddsOverhead(t *testing.T) {
	est := NewEstimator()
	turn := types.Turn{Role: types.RoleUser, Text: "please rename the helper"}
	assert.Equal(t, est.Estimate(turn.Text, "claude")+TurnOverhead, est.EstimateTurn(turn, "claude"))
}

func TestEstimateTurnsSums(t *testing.T) {
	est := NewEstimator()
	turns := []types.Turn{
		{Role: types.RoleUser, Text: "add a retry loop"},
		{Role: types.RoleAssistant, Text: "done, see fetch.go"},
	}
	want := est.EstimateTurn(turns[0], "deepseek") + est.EstimateTurn(turns[1], "deepseek")
	assert.Equal(t, want, est.EstimateTurns(turns, "deepseek"))
}
