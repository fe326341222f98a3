// Package wshub broadcasts live console lines and status transitions for
// in-flight executions to any connected subscriber. Adapted from the
// teacher's internal/ws/hub.go dashboard hub: same register/unregister/
// broadcast channel loop and per-client send buffer, retargeted from
// worker/task dashboard events to execution console streaming. No HTTP
// route is defined here — the control plane that would expose ServeWS is
// a separate concern built against this package's exported types.
package wshub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the envelope for all WebSocket messages the hub broadcasts.
type Message struct {
	Type        string      `json:"type"`
	TaskID      int64       `json:"task_id,omitempty"`
	ExecutionID int64       `json:"execution_id,omitempty"`
	Severity    string      `json:"severity,omitempty"`
	Line        string      `json:"line,omitempty"`
	Status      string      `json:"status,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Message type constants.
const (
	TypeConsoleLine  = "console_line"
	TypeStatusChange = "status_change"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages all connected WebSocket subscribers.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
}

// NewHub creates a new Hub. Call Run in a goroutine before use.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client, 8),
		unregister: make(chan *client, 8),
	}
}

// Run drives the hub's event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Skip this message for a slow subscriber rather than block execution.
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) publish(msg Message) {
	msg.Timestamp = time.Now().UTC()
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}

// BroadcastLine publishes a single console line captured during taskID's
// executionID run.
func (h *Hub) BroadcastLine(taskID, executionID int64, severity, line string) {
	h.publish(Message{
		Type:        TypeConsoleLine,
		TaskID:      taskID,
		ExecutionID: executionID,
		Severity:    severity,
		Line:        line,
	})
}

// BroadcastStatus publishes an execution status transition (e.g. running,
// success, failed, timeout).
func (h *Hub) BroadcastStatus(taskID, executionID int64, status string) {
	h.publish(Message{
		Type:        TypeStatusChange,
		TaskID:      taskID,
		ExecutionID: executionID,
		Status:      status,
	})
}

// ServeWS handles the WebSocket upgrade and starts the client's pump
// goroutines. Exported for an external control plane to mount on its own
// HTTP route; this package never listens itself.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wshub.ServeWS: upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.register <- c
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
