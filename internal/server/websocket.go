package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/gorilla/websocket"

	"github.com/SmitUplenchwar2687/Beacon/internal/recorder"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// writeWait bounds a single websocket write.
const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is a local tool
	},
}

// Live event kinds.
const (
	LiveRecord  = "record"
	LiveSummary = "summary"
)

// LiveEvent is one message on the live feed.
type LiveEvent struct {
	Kind    string             `json:"kind"`
	Time    time.Time          `json:"time"`
	Record  *recorder.Received `json:"record,omitempty"`
	Summary *telemetry.Summary `json:"summary,omitempty"`
}

// Hub manages WebSocket clients and broadcasts accepted telemetry.
type Hub struct {
	logger slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
}

// NewHub creates a new WebSocket hub.
func NewHub(logger slog.Logger) *Hub {
	return &Hub{
		logger:  logger.Named("hub"),
		clients: make(map[*client]struct{}),
	}
}

// HandleWebSocket upgrades the HTTP connection and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", slog.Error(err))
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	// Read until the peer goes away; dashboard clients never send anything.
	go func() {
		defer h.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Broadcast sends event to every connected client. A client whose write
// fails is closed; its read loop unregisters it.
func (h *Hub) Broadcast(event LiveEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error(context.Background(), "marshal live event", slog.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			h.logger.Debug(context.Background(), "websocket write failed", slog.Error(err))
			_ = c.conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		_ = c.conn.Close()
	}
}
