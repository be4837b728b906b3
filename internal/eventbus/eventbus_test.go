package eventbus

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"subcap/internal/domain"
)

func dialBus(t *testing.T, bus *Bus, client domain.ClientID) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		bus.Register(client, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	// wait for the server side to register before returning.
	require.Eventually(t, func() bool { return bus.Connected(client) }, time.Second, 5*time.Millisecond)
	return clientConn
}

func TestSendDeliversJSONEvent(t *testing.T) {
	bus := New()
	clientConn := dialBus(t, bus, "client-1")

	bus.Progress("client-1", 5, 10, 2.5)

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	require.NoError(t, clientConn.ReadJSON(&got))
	require.Equal(t, "progress", got.Kind)
}

func TestSendToUnknownClientIsNoop(t *testing.T) {
	bus := New()
	require.NotPanics(t, func() {
		bus.Log("nobody", "hello")
	})
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	bus := New()
	clientConn := dialBus(t, bus, "client-2")

	require.NoError(t, clientConn.WriteJSON(map[string]string{"type": "ping"}))

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	require.NoError(t, clientConn.ReadJSON(&got))
	require.Equal(t, "pong", got.Kind)
}

func TestWriteErrorDisconnectsClient(t *testing.T) {
	bus := New()
	clientConn := dialBus(t, bus, "client-3")
	clientConn.Close()

	require.Eventually(t, func() bool {
		bus.Send("client-3", Event{Kind: "log"})
		return !bus.Connected("client-3")
	}, time.Second, 5*time.Millisecond)
}
