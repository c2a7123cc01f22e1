package tokenest

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestEstimate_Empty(t *testing.T) {
	require.Equal(t, 0, Estimate(""))
}

func TestEstimate_ASCII(t *testing.T) {
	// 8 non-CJK chars / 4 per token = 2 tokens exactly.
	require.Equal(t, 2, Estimate("abcdefgh"))
}

func TestEstimate_CJK(t *testing.T) {
	// 3 CJK chars / 1.5 per token = 2 tokens exactly.
	require.Equal(t, 2, Estimate("你好吗"))
}

func TestEstimate_RoundsUp(t *testing.T) {
	require.Equal(t, 1, Estimate("a"))
	require.Equal(t, 1, Estimate("你"))
}

func TestCountMessages_PrefersPrecomputedTokens(t *testing.T) {
	precomputed := 42
	msgs := []Message{
		{Content: "ignored because Tokens is set", Tokens: &precomputed},
		{Content: "abcdefgh"},
	}
	require.Equal(t, 44, CountMessages(msgs))
}

// TestEstimateMonotonicity checks property P8: estimate(a+b) <= estimate(a) +
// estimate(b) + 1, i.e. concatenation never estimates far more expensively
// than estimating the parts separately (rounding can add at most one token
// per extra ceil boundary crossed).
func TestEstimateMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("estimate(a+b) <= estimate(a) + estimate(b) + 1", prop.ForAll(
		func(a, b string) bool {
			return Estimate(a+b) <= Estimate(a)+Estimate(b)+1
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
