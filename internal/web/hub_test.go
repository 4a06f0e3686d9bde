package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomquist/agentpanel/internal/hookstate"
)

func newTestMux(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/status", hub.HandleWS)
	return mux
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()
	go hub.Run()

	srv := httptest.NewServer(newTestMux(hub))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForClients(t, hub, 1)

	hub.Send("t1", hookstate.StateBusy)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var update StatusUpdate
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "t1", update.TerminalID)
	assert.Equal(t, hookstate.StateBusy, update.State)
}

func TestHubSendWithoutClients(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()
	go hub.Run()

	// Fire-and-forget: no clients means updates are dropped silently.
	hub.Send("t1", hookstate.StateDone)
}

func TestHubClientDisconnect(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()
	go hub.Run()

	srv := httptest.NewServer(newTestMux(hub))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d (got %d)", n, hub.ClientCount())
}
