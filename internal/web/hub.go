// Package web exposes terminal display states to browser panels over a
// websocket. The hub is the concrete UI forwarder: every state update is
// broadcast to all connected clients, fire-and-forget.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomquist/agentpanel/internal/hookstate"
	"github.com/tomquist/agentpanel/internal/logging"
)

var webLog = logging.ForComponent(logging.CompWeb)

// StatusUpdate is the wire message pushed to connected panels.
type StatusUpdate struct {
	TerminalID string                 `json:"terminal_id"`
	State      hookstate.DisplayState `json:"state"`
	Time       time.Time              `json:"time"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// Hub broadcasts status updates to every connected websocket client.
// Send never blocks: updates queue into a buffered channel and are dropped
// if the queue is full, per the forwarder's no-backpressure contract.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	queue   chan StatusUpdate
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. Call Run() in a goroutine, then Stop().
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		queue:   make(chan StatusUpdate, 256),
		// Smooth bursts from rapid hook activity; at human session
		// speeds the limiter never actually delays anything.
		limiter: rate.NewLimiter(rate.Limit(50), 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Send implements the forwarder contract. Never blocks; drops when the
// broadcast queue is full.
func (h *Hub) Send(terminalID string, state hookstate.DisplayState) {
	update := StatusUpdate{TerminalID: terminalID, State: state, Time: time.Now().UTC()}
	select {
	case h.queue <- update:
	default:
		webLog.Warn("broadcast_queue_full", slog.String("terminal", terminalID))
	}
}

// Run drains the broadcast queue until Stop() is called. Must be called in
// a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case update := <-h.queue:
			if err := h.limiter.Wait(h.ctx); err != nil {
				return
			}
			h.broadcast(update)
		}
	}
}

// Stop disconnects all clients and stops the broadcast loop.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(update StatusUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(update); err != nil {
			// Torn-down or stuck client: drop it silently.
			_ = conn.Close()
			delete(h.clients, conn)
		}
	}
}

// HandleWS upgrades an HTTP request and registers the client for
// broadcasts. The read loop exists only to detect disconnects; client
// messages are ignored.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	webLog.Debug("ws_client_connected", slog.String("remote", conn.RemoteAddr().String()))

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
