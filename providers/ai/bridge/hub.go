package bridge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

var (
	// ErrBusy is returned when a request is issued while another one is
	// still waiting for the browser.
	ErrBusy = errors.New("bridge: a request is already in flight")

	// ErrNotConnected is returned when no browser client is connected.
	ErrNotConnected = errors.New("bridge: no browser client connected")
)

// pendingBuffer bounds the envelopes queued for a request before the read
// loop blocks.
const pendingBuffer = 64

// Hub accepts a single browser client over a websocket and routes envelopes
// between it and the in-flight request.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	claimed bool
	conn    *websocket.Conn
	pending map[string]*pending

	writeMu sync.Mutex
	busy    atomic.Bool
}

// pending receives the envelopes of one request. done is closed when the
// request stops listening so the read loop never blocks on it.
type pending struct {
	events chan envelope
	done   chan struct{}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithCheckOrigin restricts which origins may connect. Every origin is
// accepted by default since the client page is served from elsewhere.
func WithCheckOrigin(check func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = check
	}
}

// WithHubLogger sets the logger; slog.Default() is used otherwise.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub creates a Hub ready to be mounted on an HTTP server.
func NewHub(opts ...HubOption) *Hub {
	hub := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  slog.Default(),
		pending: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(hub)
	}
	return hub
}

// Connected reports whether a browser client is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
// A second client is rejected with 409 Conflict.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.claimed {
		h.mu.Unlock()
		h.logger.Warn("rejecting extra bridge client", "remote", r.RemoteAddr)
		http.Error(w, "a bridge client is already connected", http.StatusConflict)
		return
	}
	h.claimed = true
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("bridge upgrade failed", "error", err)
		h.mu.Lock()
		h.claimed = false
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	h.logger.Info("bridge client connected", "remote", r.RemoteAddr)

	h.readLoop(conn)

	h.mu.Lock()
	h.conn = nil
	h.claimed = false
	orphans := h.pending
	h.pending = make(map[string]*pending)
	h.mu.Unlock()
	_ = conn.Close()
	h.logger.Info("bridge client disconnected", "remote", r.RemoteAddr)

	for id, p := range orphans {
		payload, _ := json.Marshal(errorPayload{Message: "browser client disconnected"})
		p.deliver(envelope{Type: typeError, ID: id, Payload: payload})
	}
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("bridge read failed", "error", err)
			}
			return
		}

		h.mu.Lock()
		p := h.pending[env.ID]
		h.mu.Unlock()
		if p == nil {
			h.logger.Debug("dropping envelope for unknown request", "type", env.Type, "id", env.ID)
			continue
		}
		p.deliver(env)
	}
}

func (p *pending) deliver(env envelope) {
	select {
	case p.events <- env:
	case <-p.done:
	}
}

// acquire claims the single request slot.
func (h *Hub) acquire() bool {
	return h.busy.CompareAndSwap(false, true)
}

func (h *Hub) release() {
	h.busy.Store(false)
}

// open registers id and sends env to the client.
func (h *Hub) open(id string, env envelope) (*pending, error) {
	h.mu.Lock()
	conn := h.conn
	if conn == nil {
		h.mu.Unlock()
		return nil, ErrNotConnected
	}
	p := &pending{events: make(chan envelope, pendingBuffer), done: make(chan struct{})}
	h.pending[id] = p
	h.mu.Unlock()

	h.writeMu.Lock()
	err := conn.WriteJSON(env)
	h.writeMu.Unlock()
	if err != nil {
		h.close(id, p)
		return nil, err
	}
	return p, nil
}

// close stops routing envelopes for id.
func (h *Hub) close(id string, p *pending) {
	h.mu.Lock()
	if h.pending[id] == p {
		delete(h.pending, id)
	}
	h.mu.Unlock()
	close(p.done)
}
