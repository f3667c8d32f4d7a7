package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Connections tracks live websocket connections per session.
type Connections struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewConnections creates an empty registry.
func NewConnections() *Connections {
	return &Connections{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds conn to sessionID.
func (c *Connections) Register(sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.active[sessionID]; !exists {
		c.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	c.active[sessionID][conn] = struct{}{}
	slog.Info("Turn channel registered", "session_id", sessionID)
}

// Unregister removes conn from sessionID.
func (c *Connections) Unregister(sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conns, ok := c.active[sessionID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(c.active, sessionID)
	}
	slog.Info("Turn channel unregistered", "session_id", sessionID)
}

// Count returns the number of live connections for sessionID.
func (c *Connections) Count(sessionID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active[sessionID])
}

// CloseSession closes every connection of sessionID.
func (c *Connections) CloseSession(sessionID string) {
	c.mu.Lock()
	conns := c.active[sessionID]
	delete(c.active, sessionID)
	c.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session ended")
	}
	if len(conns) > 0 {
		slog.Info("Turn channels closed", "session_id", sessionID, "count", len(conns))
	}
}
