// Package notify pushes scene updates to listeners: connected websocket
// clients immediately, and a RabbitMQ queue for downstream consumers.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// Client is one websocket connection subscribed to a story's updates.
type Client struct {
	storyID uuid.UUID
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	logger  *zap.Logger
}

// Hub fans scene updates out to the websocket clients of each story.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*Client]struct{}),
		logger:  logger.Named("WSHub"),
	}
}

// Register attaches a connection to a story and starts its pumps.
func (h *Hub) Register(storyID uuid.UUID, conn *websocket.Conn) *Client {
	client := &Client{
		storyID: storyID,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		hub:     h,
		logger:  h.logger.With(zap.String("storyID", storyID.String())),
	}

	h.mu.Lock()
	if h.clients[storyID] == nil {
		h.clients[storyID] = make(map[*Client]struct{})
	}
	h.clients[storyID][client] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("Websocket client connected", zap.String("storyID", storyID.String()))
	go client.writePump()
	go client.readPump()
	return client
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if set, ok := h.clients[client.storyID]; ok {
		if _, registered := set[client]; registered {
			delete(set, client)
			close(client.send)
			if len(set) == 0 {
				delete(h.clients, client.storyID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Info("Websocket client disconnected", zap.String("storyID", client.storyID.String()))
}

// Broadcast queues a message for every client subscribed to the story. Clients
// whose send buffer is full are dropped rather than allowed to stall the hub.
func (h *Hub) Broadcast(storyID uuid.UUID, message []byte) {
	h.mu.RLock()
	var stalled []*Client
	for client := range h.clients[storyID] {
		select {
		case client.send <- message:
		default:
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stalled {
		client.logger.Warn("Dropping stalled websocket client")
		_ = client.conn.Close()
		h.unregister(client)
	}
}

// Close disconnects every client. Used on server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Client
	for _, set := range h.clients {
		for client := range set {
			all = append(all, client)
		}
	}
	h.mu.Unlock()

	for _, client := range all {
		_ = client.conn.Close()
		h.unregister(client)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// Clients only listen; reads exist to notice the close frame.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
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
