// Package stream broadcasts particle frames to websocket clients so a run
// can be watched from a browser or another process.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message types sent to clients.
const (
	TypeMeta  = "meta"
	TypeFrame = "frame"
	TypeDone  = "done"
)

// Meta describes the run. It is sent once to every client on connect.
type Meta struct {
	Type       string  `json:"type"`
	NGrid      int     `json:"n_grid"`
	NParticles int     `json:"n_particles"`
	Steps      int     `json:"steps"`
	DT         float64 `json:"dt"`
}

// Frame carries the particle positions of one step as x0, y0, x1, y1, ...
type Frame struct {
	Type string    `json:"type"`
	Step int       `json:"step"`
	X    []float32 `json:"x"`
}

// Done reports the end of a pass, with the loss once it is known.
type Done struct {
	Type string   `json:"type"`
	Pass string   `json:"pass"`
	Loss *float64 `json:"loss,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Viewers are served from anywhere
	},
}

// DefaultWriteTimeout bounds a single write to a client. Broadcasts run on
// the simulation goroutine, so a client that stops reading is dropped after
// this long instead of stalling the run.
const DefaultWriteTimeout = 2 * time.Second

// Hub tracks connected clients and fans messages out to them.
type Hub struct {
	mu           sync.RWMutex
	clients      map[*websocket.Conn]*sync.Mutex
	meta         Meta
	writeTimeout time.Duration

	server *http.Server
}

// NewHub creates a hub that greets clients with meta.
func NewHub(meta Meta) *Hub {
	meta.Type = TypeMeta
	return &Hub{
		clients:      make(map[*websocket.Conn]*sync.Mutex),
		meta:         meta,
		writeTimeout: DefaultWriteTimeout,
	}
}

// SetWriteTimeout changes the per-write deadline. Call it before serving.
func (h *Hub) SetWriteTimeout(d time.Duration) {
	h.writeTimeout = d
}

// write sends v to conn under the write deadline.
func (h *Hub) write(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// ServeHTTP upgrades the request and keeps the connection until the client
// goes away. Incoming messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	connMutex := &sync.Mutex{}
	connMutex.Lock()
	err = h.write(conn, h.meta)
	connMutex.Unlock()
	if err != nil {
		return
	}

	h.mu.Lock()
	h.clients[conn] = connMutex
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	slog.Info("stream client connected", "remote", r.RemoteAddr)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	slog.Info("stream client disconnected", "remote", r.RemoteAddr)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastFrame sends a frame to every client.
func (h *Hub) BroadcastFrame(step int, x []float32) {
	h.broadcast(Frame{Type: TypeFrame, Step: step, X: x})
}

// BroadcastDone announces the end of a pass.
func (h *Hub) BroadcastDone(pass string, loss *float64) {
	h.broadcast(Done{Type: TypeDone, Pass: pass, Loss: loss})
}

// broadcast writes v to every client and drops the ones that fail or time out.
func (h *Hub) broadcast(v any) {
	h.mu.RLock()
	var failed []*websocket.Conn
	for client, mutex := range h.clients {
		mutex.Lock()
		err := h.write(client, v)
		mutex.Unlock()
		if err != nil {
			failed = append(failed, client)
		}
	}
	h.mu.RUnlock()

	if len(failed) > 0 {
		h.mu.Lock()
		for _, client := range failed {
			delete(h.clients, client)
			client.Close()
		}
		slog.Warn("dropped stream clients", "count", len(failed))
		h.mu.Unlock()
	}
}

// Start serves the hub at /ws on addr in the background and returns the
// bound address.
func (h *Hub) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("stream: listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	h.server = &http.Server{Handler: mux}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("stream server stopped", "err", err)
		}
	}()
	slog.Info("stream listening", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Shutdown stops the server started by Start and closes every client.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
	h.mu.Unlock()

	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}
