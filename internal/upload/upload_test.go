package upload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"subcap/internal/domain"
)

func TestMissingReportsAllWhenAbsent(t *testing.T) {
	m := New(t.TempDir())
	missing, err := m.Missing("up-1", 3)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, missing)
}

func TestSaveChunkThenAssembleReconstructsOriginal(t *testing.T) {
	m := New(t.TempDir())
	id := domain.UploadID("up-2")

	parts := [][]byte{[]byte("hello "), []byte("chunked "), []byte("world")}
	// submit out of order
	require.NoError(t, m.SaveChunk(id, 2, parts[2]))
	require.NoError(t, m.SaveChunk(id, 0, parts[0]))
	require.NoError(t, m.SaveChunk(id, 1, parts[1]))

	complete, err := m.IsComplete(id, 3)
	require.NoError(t, err)
	require.True(t, complete)

	finalPath, err := m.Assemble(id, 3, "final.bin")
	require.NoError(t, err)

	data, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, "hello chunked world", string(data))

	_, err = os.Stat(filepath.Join(m.root, string(id)))
	require.True(t, os.IsNotExist(err))
}

func TestAssembleFailsWhenIncomplete(t *testing.T) {
	m := New(t.TempDir())
	id := domain.UploadID("up-3")
	require.NoError(t, m.SaveChunk(id, 0, []byte("partial")))

	_, err := m.Assemble(id, 2, "final.bin")
	require.Error(t, err)
	require.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestInvalidUploadIDRejected(t *testing.T) {
	m := New(t.TempDir())
	err := m.SaveChunk("bad id!", 0, []byte("x"))
	require.Error(t, err)
	require.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestSweepRemovesOldDirectories(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.SaveChunk("stale", 0, []byte("x")))

	err := Sweep(root, time.Hour, time.Now().Add(25*time.Hour))
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(root, "stale"))
	require.True(t, os.IsNotExist(statErr))
}
