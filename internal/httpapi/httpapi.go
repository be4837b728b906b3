// Package httpapi wires the HTTP/WebSocket boundary (spec §6) to C1's
// session manager: short-lived handlers that validate input, delegate to
// workers, and never do CPU-bound work themselves.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"subcap/internal/blureffects"
	"subcap/internal/blurrender"
	"subcap/internal/config"
	"subcap/internal/domain"
	"subcap/internal/eventbus"
	"subcap/internal/ocrworker"
	"subcap/internal/session"
	"subcap/internal/srt"
	"subcap/internal/storage"
	"subcap/internal/upload"
	"subcap/internal/util"
	"subcap/internal/videoio"
)

var allowedExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true,
}

// Server holds the dependencies every handler needs.
type Server struct {
	cfg      *config.ServerConfig
	bus      *eventbus.Bus
	sessions *session.Manager
	uploads  *upload.Manager
	store    storage.Store

	upgrader websocket.Upgrader
}

// New builds a Server and its router wiring.
func New(cfg *config.ServerConfig, bus *eventbus.Bus, sessions *session.Manager, uploads *upload.Manager, store storage.Store) *Server {
	s := &Server{cfg: cfg, bus: bus, sessions: sessions, uploads: uploads, store: store}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

// Router builds the gorilla/mux router exposing the full HTTP surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/upload/status/{upload_id}", s.handleUploadStatus).Methods(http.MethodGet)
	r.HandleFunc("/process/start", s.handleProcessStart).Methods(http.MethodPost)
	r.HandleFunc("/process/stop/{client_id}", s.handleProcessStop).Methods(http.MethodPost)
	r.HandleFunc("/process/render_blur", s.handleRenderBlur).Methods(http.MethodPost)
	r.HandleFunc("/process/preview_blur", s.handlePreviewBlur).Methods(http.MethodPost)
	r.HandleFunc("/video/download/{filename}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/ws/{client_id}", s.handleWebSocket)
	return r
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleUpload accepts one chunk of a multipart upload, assembling and
// validating the video once every chunk has arrived.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}

	uploadID := domain.UploadID(r.FormValue("upload_id"))
	if err := uploadID.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed upload_id")
		return
	}

	chunkIndex, err := strconv.Atoi(r.FormValue("chunk_index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed chunk_index")
		return
	}
	totalChunks, err := strconv.Atoi(r.FormValue("total_chunks"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed total_chunks")
		return
	}
	filename := r.FormValue("filename")
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported extension")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	data := make([]byte, 0)
	buf := make([]byte, 1<<20)
	for {
		n, rerr := file.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}

	if err := s.uploads.SaveChunk(uploadID, chunkIndex, data); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save chunk")
		return
	}

	complete, err := s.uploads.IsComplete(uploadID, totalChunks)
	if err != nil || !complete {
		writeJSON(w, http.StatusOK, map[string]any{"status": "chunk_received", "chunk_index": chunkIndex})
		return
	}

	finalPath, err := s.uploads.Assemble(uploadID, totalChunks, string(uploadID)+ext)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to assemble upload")
		return
	}

	meta, err := s.probeVideo(finalPath)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid video")
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) probeVideo(path string) (domain.VideoDescriptor, error) {
	reader, err := videoio.Open(path, 1)
	if err != nil {
		return domain.VideoDescriptor{}, err
	}
	defer reader.Close()
	return reader.Descriptor(), nil
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	uploadID := domain.UploadID(mux.Vars(r)["upload_id"])
	if err := uploadID.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed upload_id")
		return
	}

	total, err := strconv.Atoi(r.URL.Query().Get("total_chunks"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed total_chunks")
		return
	}

	missing, err := s.uploads.Missing(uploadID, total)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query upload")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"missing_chunks": missing})
}

// processConfigRequest is the JSON body for /process/start.
type processConfigRequest struct {
	ClientID  string                `json:"client_id"`
	VideoPath string                `json:"video_path"`
	ROI       domain.ROI            `json:"roi"`
	Preset    domain.Preset         `json:"preset"`
	Config    domain.PipelineConfig `json:"config"`
	Language  string                `json:"language"`
}

func (s *Server) handleProcessStart(w http.ResponseWriter, r *http.Request) {
	var req processConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}

	client := domain.ClientID(req.ClientID)
	if err := client.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed client_id")
		return
	}

	resolved, err := config.ResolvePipelineConfig(req.Preset, req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	language := req.Language
	if language == "" {
		language = "eng"
	}

	outputPath := req.VideoPath + ".srt"
	params := ocrworker.Params{
		VideoPath:  req.VideoPath,
		ROI:        req.ROI,
		Config:     resolved,
		Language:   language,
		OutputPath: outputPath,
	}

	if _, err := s.sessions.StartOCR(client, params); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "started", "job_id": string(client)})
}

func (s *Server) handleProcessStop(w http.ResponseWriter, r *http.Request) {
	client := domain.ClientID(mux.Vars(r)["client_id"])
	if err := client.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed client_id")
		return
	}

	ocrStopped := s.sessions.StopOCR(client)
	renderStopped := s.sessions.StopRender(client)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "stopped",
		"ocr_stopped":    ocrStopped,
		"render_stopped": renderStopped,
	})
}

// renderConfigRequest is the JSON body for /process/render_blur.
type renderConfigRequest struct {
	ClientID  string              `json:"client_id"`
	VideoPath string              `json:"video_path"`
	AudioPath string              `json:"audio_path"`
	ROI       domain.ROI          `json:"roi"`
	Settings  domain.BlurSettings `json:"blur_settings"`
	SRTText   string              `json:"srt_text"`
}

func (s *Server) handleRenderBlur(w http.ResponseWriter, r *http.Request) {
	var req renderConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}

	client := domain.ClientID(req.ClientID)
	if err := client.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed client_id")
		return
	}

	cues := srt.Parse(req.SRTText)
	settings := config.DefaultBlurSettings(req.Settings)

	outputName := fmt.Sprintf("%s_blurred.mp4", strings.TrimSuffix(filepath.Base(req.VideoPath), filepath.Ext(req.VideoPath)))
	outputPath := filepath.Join(s.cfg.CacheDir, outputName)
	intermediatePath, err := util.CreateTempFilePath(s.cfg.CacheDir, "render", "mp4")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to allocate intermediate path")
		return
	}

	params := blurrender.Params{
		VideoPath:        req.VideoPath,
		AudioSourcePath:  req.AudioPath,
		IntermediatePath: intermediatePath,
		OutputPath:       outputPath,
		Cues:             cues,
		ROI:              req.ROI,
		Settings:         settings,
	}

	if _, err := s.sessions.StartRender(client, params); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "rendering_started", "output": outputName})
}

// previewBlurRequest is the JSON body for /process/preview_blur: render one
// frame through the blur settings a client is still tuning, without paying
// for a full pass.
type previewBlurRequest struct {
	VideoPath  string              `json:"video_path"`
	FrameIndex int                 `json:"frame_index"`
	ROI        domain.ROI          `json:"roi"`
	Settings   domain.BlurSettings `json:"blur_settings"`
}

func (s *Server) handlePreviewBlur(w http.ResponseWriter, r *http.Request) {
	var req previewBlurRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}

	frame := videoio.ExtractFrame(r.Context(), req.VideoPath, req.FrameIndex)
	if frame == nil {
		writeError(w, http.StatusUnprocessableEntity, "failed to extract frame")
		return
	}
	defer frame.Close()

	settings := config.DefaultBlurSettings(req.Settings)

	var mask *gocv.Mat
	if settings.Mode == domain.BlurModeHybrid {
		m := blureffects.TextMask(*frame, req.ROI, settings.FontSize)
		mask = &m
		defer mask.Close()
	}

	blended := blureffects.Apply(*frame, req.ROI, settings, mask, nil)
	defer blended.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, blended)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode preview")
		return
	}
	defer buf.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.GetBytes())
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	localPath := filepath.Join(s.cfg.CacheDir, filename)

	if !s.cfg.LocalOnly() {
		if url := s.store.Presign(r.Context(), filename, 10*time.Minute); url != nil {
			http.Redirect(w, r, *url, http.StatusFound)
			return
		}
	}

	if _, err := os.Stat(localPath); err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	http.ServeFile(w, r, localPath)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	client := domain.ClientID(mux.Vars(r)["client_id"])
	if err := client.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed client_id")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("httpapi: websocket upgrade failed")
		return
	}

	s.bus.Register(client, conn)
}
