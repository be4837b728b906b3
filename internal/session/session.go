// Package session implements the session/job manager (C1): the two
// process-wide maps of active OCR workers and blur renderers, with
// per-session serialization modeled on helixml/helix's session registry
// (one global map guarded briefly, per-session state held across
// teardown+start).
package session

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"subcap/internal/blurrender"
	"subcap/internal/domain"
	"subcap/internal/eventbus"
	"subcap/internal/ocrworker"
)

const teardownJoinAttempts = 3
const teardownJoinTimeout = 2 * time.Second

type sessionState struct {
	mu           sync.Mutex
	ocr          *ocrworker.Worker
	ocrCancel    context.CancelFunc
	render       *blurrender.Worker
	renderCancel context.CancelFunc
}

// Manager owns every active worker across every client session.
type Manager struct {
	bus *eventbus.Bus

	mu       sync.Mutex
	sessions map[domain.ClientID]*sessionState
}

func New(bus *eventbus.Bus) *Manager {
	return &Manager{bus: bus, sessions: make(map[domain.ClientID]*sessionState)}
}

func (m *Manager) sessionFor(client domain.ClientID) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[client]
	if !ok {
		s = &sessionState{}
		m.sessions[client] = s
	}
	return s
}

// StartOCR tears down any existing OCR worker for client, deletes a
// pre-existing SRT output of the same name, and starts a new one.
func (m *Manager) StartOCR(client domain.ClientID, params ocrworker.Params) (string, error) {
	if err := client.Validate(); err != nil {
		return "", domain.NewError(domain.KindInvalidArgument, "invalid client id", err)
	}

	s := m.sessionFor(client)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.teardownOCR(s)

	os.Remove(params.OutputPath)

	ctx, cancel := context.WithCancel(context.Background())
	worker := ocrworker.New(client, params, m.bus)
	s.ocr = worker
	s.ocrCancel = cancel

	go worker.Run(ctx)

	return params.OutputPath, nil
}

// StopOCR tears down the client's active OCR worker, if any, reporting
// whether one was found.
func (m *Manager) StopOCR(client domain.ClientID) bool {
	s := m.sessionFor(client)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.teardownOCR(s)
}

func (m *Manager) teardownOCR(s *sessionState) bool {
	if s.ocr == nil {
		return false
	}
	worker := s.ocr
	cancel := s.ocrCancel
	s.ocr = nil
	s.ocrCancel = nil

	worker.Stop()
	if cancel != nil {
		defer cancel()
	}
	if !joinWithBudget(worker.Done()) {
		log.Error().Msg("session: ocr worker did not exit within teardown budget, abandoning")
	}
	return true
}

// StartRender tears down any existing render worker for client, deletes a
// pre-existing MP4 output of the same name, and starts a new one.
func (m *Manager) StartRender(client domain.ClientID, params blurrender.Params) (string, error) {
	if err := client.Validate(); err != nil {
		return "", domain.NewError(domain.KindInvalidArgument, "invalid client id", err)
	}

	s := m.sessionFor(client)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.teardownRender(s)

	os.Remove(params.OutputPath)

	ctx, cancel := context.WithCancel(context.Background())
	worker := blurrender.New(client, params, m.bus)
	s.render = worker
	s.renderCancel = cancel

	go worker.Run(ctx)

	return params.OutputPath, nil
}

// StopRender tears down the client's active render worker, if any.
func (m *Manager) StopRender(client domain.ClientID) bool {
	s := m.sessionFor(client)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.teardownRender(s)
}

func (m *Manager) teardownRender(s *sessionState) bool {
	if s.render == nil {
		return false
	}
	worker := s.render
	cancel := s.renderCancel
	s.render = nil
	s.renderCancel = nil

	worker.Stop()
	if cancel != nil {
		defer cancel()
	}
	if !joinWithBudget(worker.Done()) {
		log.Error().Msg("session: render worker did not exit within teardown budget, abandoning")
	}
	return true
}

// joinWithBudget waits up to teardownJoinAttempts*teardownJoinTimeout for
// done to close, reporting whether it closed in time.
func joinWithBudget(done <-chan struct{}) bool {
	for i := 0; i < teardownJoinAttempts; i++ {
		select {
		case <-done:
			return true
		case <-time.After(teardownJoinTimeout):
		}
	}
	return false
}
