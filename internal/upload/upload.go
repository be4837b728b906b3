// Package upload implements the chunked-upload manager (C10): per
// upload-id chunk directories, missing-chunk queries, completion checks and
// final assembly.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"subcap/internal/domain"
	"subcap/internal/util"
)

// Manager stores in-flight upload chunks under a root tmp directory.
type Manager struct {
	root string
}

// New returns a Manager rooted at root. root is created lazily on first
// write.
func New(root string) *Manager {
	return &Manager{root: root}
}

func (m *Manager) dir(id domain.UploadID) string {
	return filepath.Join(m.root, string(id))
}

func chunkName(i int) string {
	return fmt.Sprintf("%d.chunk", i)
}

// SaveChunk writes chunk i of upload id atomically: the data is written to
// a temp file in the same directory, then renamed into place, so a crash
// mid-write never leaves a partial chunk visible to Missing/IsComplete.
func (m *Manager) SaveChunk(id domain.UploadID, i int, data []byte) error {
	if err := id.Validate(); err != nil {
		return domain.NewError(domain.KindInvalidArgument, "invalid upload id", err)
	}

	dir := m.dir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return domain.NewError(domain.KindTransientIO, "create upload dir", err)
	}
	util.CheckDiskSpace(m.root, func(format string, args ...any) {
		log.Warn().Str("upload_id", string(id)).Msg(fmt.Sprintf(format, args...))
	})

	final := filepath.Join(dir, chunkName(i))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return domain.NewError(domain.KindTransientIO, "write chunk", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return domain.NewError(domain.KindTransientIO, "rename chunk", err)
	}
	return nil
}

// Missing returns the sorted list of chunk indices in [0,total) not yet
// present. An absent upload directory reports every index missing.
func (m *Manager) Missing(id domain.UploadID, total int) ([]int, error) {
	if err := id.Validate(); err != nil {
		return nil, domain.NewError(domain.KindInvalidArgument, "invalid upload id", err)
	}

	dir := m.dir(id)
	missing := make([]int, 0, total)
	for i := 0; i < total; i++ {
		if _, err := os.Stat(filepath.Join(dir, chunkName(i))); err != nil {
			missing = append(missing, i)
		}
	}
	sort.Ints(missing)
	return missing, nil
}

// IsComplete reports whether every chunk [0,total) is present.
func (m *Manager) IsComplete(id domain.UploadID, total int) (bool, error) {
	missing, err := m.Missing(id, total)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// Assemble concatenates chunks 0..total-1 into finalName under the upload
// directory's parent, then removes the chunk directory. Returns the final
// file's path.
func (m *Manager) Assemble(id domain.UploadID, total int, finalName string) (string, error) {
	if err := id.Validate(); err != nil {
		return "", domain.NewError(domain.KindInvalidArgument, "invalid upload id", err)
	}
	complete, err := m.IsComplete(id, total)
	if err != nil {
		return "", err
	}
	if !complete {
		return "", domain.NewError(domain.KindInvalidArgument, "upload incomplete", nil)
	}

	dir := m.dir(id)
	finalPath := filepath.Join(m.root, finalName)

	out, err := os.Create(finalPath)
	if err != nil {
		return "", domain.NewError(domain.KindTransientIO, "create final file", err)
	}
	defer out.Close()

	for i := 0; i < total; i++ {
		if err := appendChunk(out, filepath.Join(dir, chunkName(i))); err != nil {
			out.Close()
			os.Remove(finalPath)
			return "", domain.NewError(domain.KindTransientIO, "assemble chunk", err)
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return "", domain.NewError(domain.KindTransientIO, "cleanup upload dir", err)
	}

	return finalPath, nil
}

func appendChunk(out *os.File, chunkPath string) error {
	in, err := os.Open(chunkPath)
	if err != nil {
		return err
	}
	defer in.Close()

	buf := make([]byte, 1<<20)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}

// Sweep removes upload directories under root whose most recent chunk
// write is older than maxAge. Intended to be invoked by an external
// periodic cleanup pass, not by the manager itself.
func Sweep(root string, maxAge time.Duration, now time.Time) error {
	return SweepWithProgress(root, maxAge, now, nil)
}

// SweepWithProgress behaves like Sweep, calling onEntry once per directory
// entry examined so a caller can drive a progress indicator.
func SweepWithProgress(root string, maxAge time.Duration, now time.Time, onEntry func()) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if onEntry != nil {
			onEntry()
		}
		if !e.IsDir() {
			continue
		}
		dirPath := filepath.Join(root, e.Name())
		newest, err := newestModTime(dirPath)
		if err != nil {
			continue
		}
		if now.Sub(newest) > maxAge {
			os.RemoveAll(dirPath)
		}
	}
	return nil
}

func newestModTime(dir string) (time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, err
	}
	var newest time.Time
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, nil
}
