// Package relay bridges the in-process event bus to WebSocket clients.
package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/bus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// sendBuffer is the per-client outbound queue depth. A client that falls
// further behind loses events rather than stalling the bus.
const sendBuffer = 64

type client struct {
	conn *websocket.Conn
	send chan []byte
	// projectID filters the feed to one project; empty means everything.
	projectID string
}

// Hub fans bus events out to connected WebSocket clients. Each client
// gets its own buffered lane; delivery to a full lane drops the event for
// that client only.
type Hub struct {
	Bus *bus.Bus
	Log *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	sub     *bus.Subscription
}

// NewHub creates a Hub over the given bus.
func NewHub(b *bus.Bus, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		Bus:     b,
		Log:     log,
		clients: make(map[*client]struct{}),
	}
}

// Start subscribes the hub to the full event feed.
func (h *Hub) Start() {
	h.sub = h.Bus.Subscribe(bus.Wildcard, h.onEvent)
}

// Stop unsubscribes from the bus and closes every client connection.
func (h *Hub) Stop() {
	if h.sub != nil {
		h.Bus.Unsubscribe(h.sub)
		h.sub = nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

// StreamSink publishes a participant's streamed text chunk as an
// agent_stream event. It satisfies the agent package's sink signature so
// command-backed participants can be wired straight to the hub.
func (h *Hub) StreamSink(participantID, text string) {
	h.Bus.Emit("agent_stream", map[string]any{
		"agent_id": participantID,
		"text":     text,
	})
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request and serves the event feed until the
// client disconnects. A project_id query parameter narrows the feed.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("websocket upgrade", "error", err)
		return
	}

	c := &client{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		projectID: r.URL.Query().Get("project_id"),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()

	// Inbound messages are drained and discarded; the read loop exists
	// to detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
	conn.Close()
}

// onEvent marshals one bus event and offers it to every matching client.
func (h *Hub) onEvent(eventType string, data map[string]any) {
	raw, err := json.Marshal(map[string]any{
		"event_type": eventType,
		"data":       data,
	})
	if err != nil {
		h.Log.Warn("marshal event", "event_type", eventType, "error", err)
		return
	}
	projectID, _ := data["project_id"].(string)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.projectID != "" && c.projectID != projectID {
			continue
		}
		select {
		case c.send <- raw:
		default:
			h.Log.Debug("dropped event for slow client", "event_type", eventType)
		}
	}
}

func (c *client) writePump() {
	for raw := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			c.conn.Close()
			return
		}
	}
}
