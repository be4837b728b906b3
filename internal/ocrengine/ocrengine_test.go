package ocrengine

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

func box(text string, score float64, y int) Box {
	return Box{Text: text, Score: score, Rect: image.Rect(0, y, 100, y+20)}
}

func TestParseResultsFiltersByConfidenceAndText(t *testing.T) {
	boxes := []Box{
		box("kept", 0.9, 0),
		box("", 0.95, 10),
		box("dropped", 0.4, 20),
	}
	text, avgConf := ParseResults(boxes, 0.6)
	require.Equal(t, "kept", text)
	require.Equal(t, 0.9, avgConf)
}

func TestParseResultsSortsTopToBottom(t *testing.T) {
	boxes := []Box{
		box("second", 0.9, 50),
		box("first", 0.9, 0),
	}
	text, _ := ParseResults(boxes, 0.5)
	require.Equal(t, "first second", text)
}

func TestParseResultsReturnsZeroWhenNoneSurvive(t *testing.T) {
	text, avgConf := ParseResults(nil, 0.5)
	require.Empty(t, text)
	require.Equal(t, 0.0, avgConf)
}
