package websockets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

type client struct {
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

// Hub keeps the websocket connections of the local server, grouped by user.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	byUser  map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		byUser:  make(map[string]map[string]struct{}),
	}
}

// Make sure we conform to the interface
var _ Publisher = (*Hub)(nil)

// Attach registers an upgraded connection for a user and returns its id.
func (h *Hub) Attach(userID string, conn *websocket.Conn) string {
	connectionID := uuid.New().String()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[connectionID] = &client{userID: userID, conn: conn}
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]struct{})
	}
	h.byUser[userID][connectionID] = struct{}{}
	return connectionID
}

// Detach forgets a connection. The caller owns closing it.
func (h *Hub) Detach(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connectionID]
	if !ok {
		return
	}
	delete(h.clients, connectionID)
	delete(h.byUser[c.userID], connectionID)
	if len(h.byUser[c.userID]) == 0 {
		delete(h.byUser, c.userID)
	}
}

// Count returns the number of open connections for a user.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Publish writes the message to each of the user's connections. A failed
// write drops that connection from the hub.
func (h *Hub) Publish(ctx context.Context, userID string, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	h.mu.RLock()
	targets := make(map[string]*client, len(h.byUser[userID]))
	for id := range h.byUser[userID] {
		targets[id] = h.clients[id]
	}
	h.mu.RUnlock()

	for id, c := range targets {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		c.mu.Unlock()
		if err != nil {
			slog.Warn("dropping local connection after failed write", "connectionId", id, "error", err)
			h.Detach(id)
		}
	}
	return nil
}
