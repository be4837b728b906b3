package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"subcap/internal/domain"
	"subcap/internal/eventbus"
	"subcap/internal/ocrworker"
)

func TestStartOCRRejectsInvalidClientID(t *testing.T) {
	m := New(eventbus.New())
	_, err := m.StartOCR("bad id!", ocrworker.Params{})
	require.Error(t, err)
	require.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestStopOCRWithNoActiveWorkerReturnsFalse(t *testing.T) {
	m := New(eventbus.New())
	require.False(t, m.StopOCR("client-1"))
}

func TestStartOCRWithMissingVideoStillReturnsOutputPath(t *testing.T) {
	m := New(eventbus.New())
	out, err := m.StartOCR("client-2", ocrworker.Params{VideoPath: "/does/not/exist.mp4", OutputPath: "/tmp/out.srt"})
	require.NoError(t, err)
	require.Equal(t, "/tmp/out.srt", out)

	require.True(t, m.StopOCR("client-2"))
}
