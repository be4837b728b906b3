package srt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"subcap/internal/domain"
)

func TestFormatProducesExpectedGrammar(t *testing.T) {
	items := []domain.SubtitleItem{
		{Start: 4.0, End: 16.04, Text: "hello world"},
	}
	out := Format(items)
	require.Equal(t, "1\n00:00:04,000 --> 00:00:16,040\nhello world\n\n", out)
}

func TestRoundTripPreservesTimingAndText(t *testing.T) {
	items := []domain.SubtitleItem{
		{Start: 2.0, End: 2.5, Text: "A"},
		{Start: 2.2, End: 4.0, Text: "B"},
	}
	parsed := Parse(Format(items))
	require.Len(t, parsed, 2)
	for i := range items {
		require.InDelta(t, items[i].Start, parsed[i].Start, 0.001)
		require.InDelta(t, items[i].End, parsed[i].End, 0.001)
		require.Equal(t, items[i].Text, parsed[i].Text)
		require.Equal(t, i+1, parsed[i].ID)
	}
}

func TestParseStripsLeadingTag(t *testing.T) {
	text := "1\n00:00:01,000 --> 00:00:02,000\n<i>hello</i>\n\n"
	parsed := Parse(text)
	require.Len(t, parsed, 1)
	require.Equal(t, "hello", parsed[0].Text)
}

func TestParseDiscardsMalformedBlock(t *testing.T) {
	text := "1\nnot a timestamp\nsome text\n\n2\n00:00:01,000 --> 00:00:02,000\nok\n\n"
	parsed := Parse(text)
	require.Len(t, parsed, 1)
	require.Equal(t, "ok", parsed[0].Text)
}

func TestParseNormalizesCRLF(t *testing.T) {
	text := "1\r\n00:00:01,000 --> 00:00:02,000\r\nhello\r\n\r\n"
	parsed := Parse(text)
	require.Len(t, parsed, 1)
	require.Equal(t, "hello", parsed[0].Text)
}

func TestEmptyInputYieldsNoItems(t *testing.T) {
	require.Empty(t, Format(nil))
	require.Empty(t, Parse(""))
}
