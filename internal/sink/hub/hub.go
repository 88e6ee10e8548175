// Package hub broadcasts pipeline events to WebSocket subscribers.
//
// A [Hub] is both a [pipeline.Sink] and an [http.Handler]: mount it on
// /events and every connected client receives each event as a JSON text
// message. Slow clients lose messages instead of stalling the pipeline.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/wakeword/internal/pipeline"
)

var (
	_ pipeline.Sink = (*Hub)(nil)
	_ http.Handler  = (*Hub)(nil)
)

const (
	defaultClientBuffer = 32
	writeTimeout        = 5 * time.Second
)

// Option configures a [Hub].
type Option func(*Hub)

// WithClientBuffer sets how many messages are queued per client before
// further messages to that client are dropped.
func WithClientBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.clientBuffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin browser clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = append(h.originPatterns, patterns...) }
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

type client struct {
	send chan []byte
}

// Hub fans events out to connected WebSocket clients. It is safe for
// concurrent use.
type Hub struct {
	log            *slog.Logger
	clientBuffer   int
	originPatterns []string

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	dropped atomic.Int64
}

// New creates an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		log:          slog.Default(),
		clientBuffer: defaultClientBuffer,
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish implements [pipeline.Sink].
func (h *Hub) Publish(_ context.Context, ev pipeline.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("hub: marshal event", "kind", ev.Kind, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams events until the
// client disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Debug("hub: accept", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan []byte, h.clientBuffer)}
	if !h.register(c) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unregister(c)

	h.log.Debug("hub: client connected", "remote", r.RemoteAddr)

	// Subscribers only listen; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.log.Debug("hub: write", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many per-client messages were discarded because the
// client's queue was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
