package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStoreUploadIsNoop(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	require.True(t, s.Upload(context.Background(), "/does/not/exist", "key"))
}

func TestLocalStoreDownloadChecksExistence(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.mp4")
	require.NoError(t, os.WriteFile(present, []byte("data"), 0644))

	s := NewLocalStore(dir)
	require.True(t, s.Download(context.Background(), "key", present))
	require.False(t, s.Download(context.Background(), "key", filepath.Join(dir, "missing.mp4")))
}

func TestLocalStorePresignReturnsNil(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	require.Nil(t, s.Presign(context.Background(), "key", 0))
}
