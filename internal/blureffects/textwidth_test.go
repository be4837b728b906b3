package blureffects

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateTextWidthThinCharsNarrowerThanWide(t *testing.T) {
	thin := EstimateTextWidth("iiii", 24, 1.0)
	wide := EstimateTextWidth("MMMM", 24, 1.0)
	require.Less(t, thin, wide)
}

func TestEstimateTextWidthCJKWidestClass(t *testing.T) {
	cjk := EstimateTextWidth("字", 24, 1.0)
	upper := EstimateTextWidth("A", 24, 1.0)
	require.Greater(t, cjk, upper)
}

func TestEstimateTextWidthScalesWithMultiplier(t *testing.T) {
	base := EstimateTextWidth("hello", 24, 1.0)
	scaled := EstimateTextWidth("hello", 24, 2.0)
	require.InDelta(t, base*2, scaled, 0.01)
}

func TestEstimateTextWidthEmptyIsZero(t *testing.T) {
	require.Equal(t, 0.0, EstimateTextWidth("", 24, 1.0))
}
