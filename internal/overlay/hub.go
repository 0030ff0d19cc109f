package overlay

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/csheth/chunkview/internal/geom"
)

const (
	sendBuffer   = 8
	writeTimeout = 5 * time.Second
)

// highlightMessage is pushed to every websocket client when the published
// set changes, and once on connect.
type highlightMessage struct {
	Type  string           `json:"type"`
	Rects []geom.PixelRect `json:"rects"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan any
}

// Hub holds the latest published set and fans it out to websocket clients.
type Hub struct {
	mu      sync.Mutex
	latest  []geom.PixelRect
	clients map[string]*client
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Publish records rects as the current set and broadcasts it. Slow clients
// that cannot keep up are dropped.
func (h *Hub) Publish(rects []geom.PixelRect) {
	snapshot := make([]geom.PixelRect, len(rects))
	copy(snapshot, rects)
	msg := highlightMessage{Type: "highlight", Rects: snapshot}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = snapshot
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("[overlay] dropping slow client %s", id)
			delete(h.clients, id)
			close(c.send)
		}
	}
}

// Latest returns a copy of the most recently published set.
func (h *Hub) Latest() []geom.PixelRect {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]geom.PixelRect, len(h.latest))
	copy(out, h.latest)
	return out
}

// Clients reports the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(conn *websocket.Conn) *client {
	c := &client{id: uuid.New().String(), conn: conn, send: make(chan any, sendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return c
	}
	h.clients[c.id] = c
	c.send <- highlightMessage{Type: "highlight", Rects: append([]geom.PixelRect{}, h.latest...)}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

// reply queues a message for this client only. It reports false when the
// client is gone or its queue is full.
func (h *Hub) reply(c *client, msg any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// writeLoop drains the client's queue onto the connection until the hub
// closes the queue.
func (c *client) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Printf("[overlay] websocket write %s: %v", c.id, err)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
}
