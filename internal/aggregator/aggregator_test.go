package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"subcap/internal/domain"
)

func TestSingleStaticCaptionYieldsOneEvent(t *testing.T) {
	var commits []domain.SubtitleItem
	agg := New(0.8, 1.0/25.0, 5, func(item domain.SubtitleItem) { commits = append(commits, item) }, nil)

	fps := 25.0
	step := 1
	for frame := 100; frame <= 400; frame += step {
		ts := float64(frame) / fps
		agg.Push("hello world", 0.9, ts)
	}

	items := agg.Finalize()
	require.Len(t, items, 1)
	require.InDelta(t, 4.0, items[0].Start, 0.01)
	require.InDelta(t, 16.04, items[0].End, 0.01)
}

func TestTwoAdjacentCaptionsYieldTwoEvents(t *testing.T) {
	agg := New(0.8, 1.0/25.0, 5, nil, nil)
	fps := 25.0

	for frame := 0; frame <= 49; frame++ {
		agg.Push("Good morning", 0.9, float64(frame)/fps)
	}
	for frame := 55; frame <= 100; frame++ {
		agg.Push("See you", 0.9, float64(frame)/fps)
	}

	items := agg.Finalize()
	require.Len(t, items, 2)
	require.InDelta(t, 2.00, items[0].End, 0.05)
	require.InDelta(t, 2.20, items[1].Start, 0.05)
}

func TestGapToleranceClosesEventAfterLongInvalidRun(t *testing.T) {
	agg := New(0.8, 0.04, 2, nil, nil)
	agg.Push("hello", 0.9, 0.0)
	agg.Push("", 0, 0.04)
	agg.Push("", 0, 0.08)
	agg.Push("", 0, 0.12) // gap_frames=3 > tolerance=2, commits
	agg.Push("new", 0.9, 1.0)

	items := agg.Finalize()
	require.Len(t, items, 2)
	require.Equal(t, "hello", items[0].Text)
	require.Equal(t, "new", items[1].Text)
}

func TestLowConfidenceIsIgnoredWhenNoEventOpen(t *testing.T) {
	agg := New(0.8, 0.04, 5, nil, nil)
	agg.Push("noise", 0.1, 0.0)
	require.Empty(t, agg.Finalize())
}

func TestHigherConfidenceReplacesText(t *testing.T) {
	agg := New(0.5, 0.04, 5, nil, nil)
	agg.Push("helo wrld", 0.6, 0.0)
	agg.Push("hello world", 0.9, 0.04)

	items := agg.Finalize()
	require.Len(t, items, 1)
	require.Equal(t, "hello world", items[0].Text)
	require.Equal(t, 0.9, items[0].Conf)
}

func TestDenseIDsAssignedOnFinalize(t *testing.T) {
	agg := New(0.5, 0.04, 0, nil, nil)
	agg.Push("a", 0.9, 0.0)
	agg.Push("totally different text", 0.9, 1.0)
	items := agg.Finalize()
	require.Len(t, items, 2)
	require.Equal(t, 1, items[0].ID)
	require.Equal(t, 2, items[1].ID)
}

func TestExtendingAnOpenEventFiresOnUpdate(t *testing.T) {
	var updates []domain.SubtitleItem
	agg := New(0.8, 0.04, 5, nil, func(item domain.SubtitleItem) { updates = append(updates, item) })

	agg.Push("hello world", 0.9, 0.0)
	require.Empty(t, updates, "first reading opens the event, it doesn't extend one")

	agg.Push("hello world", 0.95, 0.04)
	require.Len(t, updates, 1)
	require.Equal(t, 1, updates[0].ID)
	require.InDelta(t, 0.08, updates[0].End, 0.001)

	agg.Finalize()
}
