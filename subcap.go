// Package subcap provides a Go library for running a subtitle OCR and
// blur-render service: burned-in subtitle extraction from video ROIs, and
// rendering a blurred copy of a video over a set of subtitle cues.
//
// Basic usage:
//
//	svc, err := subcap.New(
//	    subcap.WithCacheDir("cache"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	router := svc.Router()
//	http.ListenAndServe(svc.Addr(), router)
package subcap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/mux"

	"subcap/internal/blurrender"
	"subcap/internal/config"
	"subcap/internal/domain"
	"subcap/internal/eventbus"
	"subcap/internal/httpapi"
	"subcap/internal/ocrworker"
	"subcap/internal/session"
	"subcap/internal/storage"
	"subcap/internal/upload"
)

// Service is the main entry point for embedding subcap in another process.
// It owns the event bus, session manager, upload manager and storage
// backend that the HTTP layer is built from.
type Service struct {
	cfg      *config.ServerConfig
	bus      *eventbus.Bus
	sessions *session.Manager
	uploads  *upload.Manager
	store    storage.Store
	api      *httpapi.Server
}

// Option configures a Service before construction.
type Option func(*config.ServerConfig)

// WithCacheDir sets the directory assembled uploads and render outputs are
// written to.
func WithCacheDir(dir string) Option {
	return func(c *config.ServerConfig) { c.CacheDir = dir }
}

// WithListenAddr sets the HTTP listen address.
func WithListenAddr(addr string) Option {
	return func(c *config.ServerConfig) { c.Addr = addr }
}

// WithAllowedOrigins restricts WebSocket upgrades to the given origins.
// An empty list allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(c *config.ServerConfig) { c.AllowedOrigins = origins }
}

// WithS3 configures the object-store output sink. Omitting this option
// leaves the service local-only, per spec §4.11.
func WithS3(endpoint, region, bucket, accessKey, secretKey string) Option {
	return func(c *config.ServerConfig) {
		c.S3Endpoint = endpoint
		c.S3Region = region
		c.S3Bucket = bucket
		c.S3AccessKey = accessKey
		c.S3SecretKey = secretKey
	}
}

// New builds a Service from environment defaults overridden by opts.
func New(opts ...Option) (*Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", cfg.CacheDir, err)
	}

	bus := eventbus.New()
	sessions := session.New(bus)
	uploads := upload.New(cfg.CacheDir + "/.uploads")

	var store storage.Store = storage.NewLocalStore(cfg.CacheDir)
	if !cfg.LocalOnly() {
		s3store, err := storage.NewS3Store(context.Background(), cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			return nil, err
		}
		store = s3store
	}

	api := httpapi.New(cfg, bus, sessions, uploads, store)

	return &Service{cfg: cfg, bus: bus, sessions: sessions, uploads: uploads, store: store, api: api}, nil
}

// Router returns the gorilla/mux router exposing the full HTTP/WebSocket
// surface from spec §6.
func (s *Service) Router() *mux.Router {
	return s.api.Router()
}

// Addr returns the configured listen address.
func (s *Service) Addr() string {
	return s.cfg.Addr
}

// CacheDir returns the configured output/cache directory.
func (s *Service) CacheDir() string {
	return s.cfg.CacheDir
}

// StartOCR starts an OCR job for client, returning the path the SRT output
// will be written to once the job completes.
func (s *Service) StartOCR(client domain.ClientID, params ocrworker.Params) (string, error) {
	return s.sessions.StartOCR(client, params)
}

// StartRender starts a blur-render job for client, returning the path the
// rendered video will be written to once the job completes.
func (s *Service) StartRender(client domain.ClientID, params blurrender.Params) (string, error) {
	return s.sessions.StartRender(client, params)
}

// Stop tears down any active OCR and render jobs for client, reporting
// whether each was found running.
func (s *Service) Stop(client domain.ClientID) (ocrStopped, renderStopped bool) {
	return s.sessions.StopOCR(client), s.sessions.StopRender(client)
}

// SweepUploads removes incomplete upload chunk directories older than
// maxAge. Intended to be called periodically by the host process.
func (s *Service) SweepUploads(maxAge time.Duration) error {
	return upload.Sweep(s.cfg.CacheDir+"/.uploads", maxAge, time.Now())
}
