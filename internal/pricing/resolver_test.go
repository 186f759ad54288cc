package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriceOf_ExactMatch(t *testing.T) {
	r := NewResolver(nil)
	p := r.PriceOf("gemini-2.5-flash")
	require.Equal(t, 0.075, p.InputPerMillion)
	require.Equal(t, 0.30, p.OutputPerMillion)
}

func TestPriceOf_CaseInsensitive(t *testing.T) {
	r := NewResolver(nil)
	p := r.PriceOf("GPT-4O")
	require.Equal(t, 2.50, p.InputPerMillion)
}

func TestPriceOf_SubstringFallback(t *testing.T) {
	r := NewResolver(nil)
	p := r.PriceOf("gemini-2.5-flash-preview-08-2025")
	require.Equal(t, 0.075, p.InputPerMillion)
}

func TestPriceOf_DefaultFallback(t *testing.T) {
	r := NewResolver(nil)
	p := r.PriceOf("some-unknown-model-xyz")
	require.Equal(t, 0.15, p.InputPerMillion)
	require.Equal(t, 0.60, p.OutputPerMillion)
}

func TestCost(t *testing.T) {
	cost := Cost(40_000, 10_000, Price{InputPerMillion: 0.075, OutputPerMillion: 0.30})
	require.InDelta(t, 0.006, cost, 1e-9)
}
