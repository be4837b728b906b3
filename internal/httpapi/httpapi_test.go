package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"subcap/internal/config"
	"subcap/internal/eventbus"
	"subcap/internal/session"
	"subcap/internal/storage"
	"subcap/internal/upload"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cacheDir := t.TempDir()
	cfg := &config.ServerConfig{CacheDir: cacheDir}
	bus := eventbus.New()
	sessions := session.New(bus)
	uploads := upload.New(filepath.Join(cacheDir, ".temp"))
	store := storage.NewLocalStore(cacheDir)
	return New(cfg, bus, sessions, uploads, store), cacheDir
}

func multipartChunk(t *testing.T, fields map[string]string, fileField, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile(fileField, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadRejectsMalformedUploadID(t *testing.T) {
	srv, _ := newTestServer(t)
	body, ct := multipartChunk(t, map[string]string{
		"upload_id": "bad id!", "chunk_index": "0", "total_chunks": "1",
	}, "file", "video.mp4", []byte("data"))

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	srv, _ := newTestServer(t)
	body, ct := multipartChunk(t, map[string]string{
		"upload_id": "up-1", "chunk_index": "0", "total_chunks": "1", "filename": "video.txt",
	}, "file", "video.txt", []byte("data"))

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestUploadStatusReportsMissingChunks(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/upload/status/up-2?total_chunks=3", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string][]int
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, []int{0, 1, 2}, resp["missing_chunks"])
}

func TestChunkedUploadReassemblesByteIdentical(t *testing.T) {
	srv, cacheDir := newTestServer(t)

	original := bytes.Repeat([]byte("subcapdata"), 1000)
	chunkSize := len(original) / 4
	var chunks [][]byte
	for i := 0; i < 4; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if i == 3 {
			end = len(original)
		}
		chunks = append(chunks, original[start:end])
	}

	// submit out of order; each chunk is accepted and the final chunk
	// triggers assembly, surfaced as a probe failure since this payload
	// isn't a real video. The assembled file is left in place, so its bytes
	// are compared with the original afterwards.
	order := []int{2, 0, 3, 1}
	for i, idx := range order {
		fields := map[string]string{
			"upload_id": "up-3", "chunk_index": strconv.Itoa(idx), "total_chunks": "4", "filename": "video.mp4",
		}
		body, ct := multipartChunk(t, fields, "file", "video.mp4", chunks[idx])
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)

		if i < len(order)-1 {
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		} else {
			require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		}
	}

	assembled, err := os.ReadFile(filepath.Join(cacheDir, ".temp", "up-3.mp4"))
	require.NoError(t, err)
	require.Equal(t, original, assembled)
}

func TestProcessStopWithNoActiveWorkersReportsFalse(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/process/stop/client-1", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, false, resp["ocr_stopped"])
	require.Equal(t, false, resp["render_stopped"])
}

func TestDownloadReturns404WhenMissing(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/video/download/missing.mp4", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadServesLocalFile(t *testing.T) {
	srv, cacheDir := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "out.mp4"), []byte("video bytes"), 0644))

	req := httptest.NewRequest(http.MethodGet, "/video/download/out.mp4", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "video bytes", w.Body.String())
}
