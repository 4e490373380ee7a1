// Package realtime pushes job progress and performance alerts to websocket
// subscribers. Delivery is best-effort: a slow connection drops messages
// rather than stalling the pipeline.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tender-ingest/internal/logging"
	"github.com/tender-ingest/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 32
)

// Envelope wraps every outbound message with its kind.
type Envelope struct {
	Kind    string      `json:"kind"` // "progress" or "alert"
	Payload interface{} `json:"payload"`
}

// client is one websocket subscriber scoped to a tenant.
type client struct {
	tenantID string
	conn     *websocket.Conn
	send     chan []byte
}

// Hub fans progress events and alerts out to each tenant's connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *logging.Logger

	upgrader websocket.Upgrader
}

// NewHub creates a hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the SaaS frontend on another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades one HTTP request to a websocket subscription for the
// given tenant.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &client{
		tenantID: tenantID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.WithFields(map[string]interface{}{
		"tenantId": tenantID,
	}).Debug("Websocket client connected")

	go h.writePump(c)
	go h.readPump(c)
}

// PublishProgress implements the orchestrator's Broadcaster.
func (h *Hub) PublishProgress(event *models.ProgressEvent) {
	h.publish(event.TenantID, Envelope{Kind: "progress", Payload: event})
}

// PublishAlert implements the metrics collector's AlertSink.
func (h *Hub) PublishAlert(alert *models.PerformanceAlert) {
	h.publish(alert.TenantID, Envelope{Kind: "alert", Payload: alert})
}

// ClientCount returns the number of live connections, optionally filtered by
// tenant ("" counts all).
func (h *Hub) ClientCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for c := range h.clients {
		if tenantID == "" || c.tenantID == tenantID {
			count++
		}
	}
	return count
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

func (h *Hub) publish(tenantID string, envelope Envelope) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to encode realtime message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.tenantID != tenantID {
			continue
		}
		select {
		case c.send <- raw:
		default:
			// Buffer full. Drop the message, the client catches up via
			// status polls.
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// readPump discards inbound frames and enforces the pong deadline.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
