// Package events streams task lifecycle events to WebSocket clients.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inferno-ml/inferno/log"
)

const (
	maxConnections = 200
	writeDeadline  = 5 * time.Second
	depthInterval  = 5 * time.Second
)

// Event is one entry on the feed: a submission, or a periodic
// queue-depth snapshot.
type Event struct {
	Type     string           `json:"type"` // "task_submitted", "queue_depth"
	TaskID   string           `json:"task_id,omitempty"`
	Model    string           `json:"model,omitempty"`
	Priority string           `json:"priority,omitempty"`
	Status   string           `json:"status,omitempty"`
	Depths   map[string]int64 `json:"depths,omitempty"`
	TS       time.Time        `json:"ts"`
}

// DepthFn reports pending depth per queue for the periodic snapshot.
type DepthFn func(ctx context.Context) map[string]int64

// Hub fans events out to connected clients. Single broadcaster
// pattern; dead connections are dropped on write failure.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	feed       chan Event
	depths     DepthFn
}

// NewHub builds a Hub; depths may be nil to disable snapshots.
func NewHub(depths DepthFn) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		feed:       make(chan Event, 256),
		depths:     depths,
	}
}

// Run is the hub main loop. Call in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(depthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				conn.Close()
				log.Logger.Warn().Int("max", maxConnections).Msg("event client rejected: connection cap")
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.drop(conn)

		case ev := <-h.feed:
			h.broadcast(ev)

		case <-ticker.C:
			if h.depths == nil {
				continue
			}
			h.broadcast(Event{
				Type:   "queue_depth",
				Depths: h.depths(ctx),
				TS:     time.Now().UTC(),
			})
		}
	}
}

// Publish enqueues an event without blocking; the feed drops under
// backpressure rather than stalling a request handler.
func (h *Hub) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case h.feed <- ev:
	default:
	}
}

// Register attaches a client connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister detaches a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteJSON(ev); err != nil {
			log.Logger.Debug().Err(err).Msg("event write failed, dropping client")
			h.drop(conn)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}
