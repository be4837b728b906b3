// Package eventbus delivers ordered JSON events to a single named client
// connection, modeled on the connected-client registry pattern of
// helixml/helix's desktop session registry: one map from id to connection
// guarded by a lock, and a per-connection mutex serializing writes.
package eventbus

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"subcap/internal/domain"
)

const receiveTimeout = 60 * time.Second

// Event is anything a worker publishes to a client. Kind is one of the five
// exhaustive kinds from spec §4.2: log, subtitle_new, subtitle_update,
// progress, finish. The receive loop also uses it to answer a ping with a
// pong event.
type Event struct {
	Kind string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// LogEvent payload.
type LogEvent struct {
	Message string `json:"message"`
}

// SubtitleEventPayload wraps a committed subtitle item for subtitle_new and
// subtitle_update events.
type SubtitleEventPayload struct {
	Item domain.SubtitleItem `json:"item"`
}

// ProgressEvent payload.
type ProgressEvent struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	ETA     string `json:"eta"`
}

// FinishEvent payload.
type FinishEvent struct {
	Success     bool   `json:"success"`
	DownloadURL string `json:"download_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

type connection struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Bus maps client ids to live WebSocket connections and serializes event
// delivery per connection.
type Bus struct {
	mu    sync.RWMutex
	conns map[domain.ClientID]*connection
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{conns: make(map[domain.ClientID]*connection)}
}

// Register binds a client id to a live connection, replacing any prior
// connection for that id. It starts a receive loop that answers pings and
// drops the connection after 60s of silence.
func (b *Bus) Register(client domain.ClientID, conn *websocket.Conn) {
	c := &connection{conn: conn}

	b.mu.Lock()
	b.conns[client] = c
	b.mu.Unlock()

	go b.receiveLoop(client, c)
}

// Unregister removes the client's connection, if its current connection
// still matches c. Called when the receive loop exits.
func (b *Bus) unregister(client domain.ClientID, c *connection) {
	b.mu.Lock()
	if cur, ok := b.conns[client]; ok && cur == c {
		delete(b.conns, client)
	}
	b.mu.Unlock()
}

func (b *Bus) receiveLoop(client domain.ClientID, c *connection) {
	defer b.unregister(client, c)
	defer c.conn.Close()

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(receiveTimeout))
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ping struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &ping); err != nil {
			continue
		}
		if ping.Type == "ping" {
			b.send(client, c, Event{Kind: "pong"})
		}
	}
}

// Send serializes message as JSON and writes it to client's connection. Any
// I/O error silently disconnects the client. If the client has no
// connection, the event is dropped.
func (b *Bus) Send(client domain.ClientID, event Event) {
	b.mu.RLock()
	c, ok := b.conns[client]
	b.mu.RUnlock()
	if !ok {
		return
	}
	b.send(client, c, event)
}

func (b *Bus) send(client domain.ClientID, c *connection, event Event) {
	c.mu.Lock()
	err := c.conn.WriteJSON(event)
	c.mu.Unlock()
	if err != nil {
		log.Debug().Str("client_id", string(client)).Err(err).Msg("eventbus: write failed, disconnecting")
		b.unregister(client, c)
		_ = c.conn.Close()
	}
}

// Log publishes a log event.
func (b *Bus) Log(client domain.ClientID, message string) {
	b.Send(client, Event{Kind: "log", Data: LogEvent{Message: message}})
}

// SubtitleNew publishes a subtitle_new event.
func (b *Bus) SubtitleNew(client domain.ClientID, item domain.SubtitleItem) {
	b.Send(client, Event{Kind: "subtitle_new", Data: SubtitleEventPayload{Item: item}})
}

// SubtitleUpdate publishes a subtitle_update event.
func (b *Bus) SubtitleUpdate(client domain.ClientID, item domain.SubtitleItem) {
	b.Send(client, Event{Kind: "subtitle_update", Data: SubtitleEventPayload{Item: item}})
}

// Progress publishes a progress event. etaSeconds is the estimated
// remaining time in seconds, formatted as MM:SS.
func (b *Bus) Progress(client domain.ClientID, current, total int, etaSeconds float64) {
	b.Send(client, Event{Kind: "progress", Data: ProgressEvent{Current: current, Total: total, ETA: formatETA(etaSeconds)}})
}

func formatETA(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Finish publishes the terminal finish event for a worker.
func (b *Bus) Finish(client domain.ClientID, success bool, downloadURL, errMsg string) {
	b.Send(client, Event{Kind: "finish", Data: FinishEvent{Success: success, DownloadURL: downloadURL, Error: errMsg}})
}

// Connected reports whether client currently has a live connection.
func (b *Bus) Connected(client domain.ClientID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.conns[client]
	return ok
}
