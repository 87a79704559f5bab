// internal/handlers/gateway.go
package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Frame is the wire envelope for every server-to-client WebSocket message.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// WSConn is one authenticated client connection. Outgoing frames go through
// OutChan so handler code never blocks on a slow socket; the write pump
// drains it.
type WSConn struct {
	UserID  uuid.UUID
	OutChan chan Frame
	Cancel  context.CancelFunc
}

// Send queues one frame, dropping it if the client's buffer is full. A
// client that cannot keep up misses snapshots rather than stalling the
// registries; the next full snapshot resynchronizes it.
func (c *WSConn) Send(event string, data interface{}) {
	select {
	case c.OutChan <- Frame{Event: event, Data: data}:
	default:
	}
}

// WriteError queues an error frame for the client.
func (c *WSConn) WriteError(msg string) {
	c.Send("error", map[string]string{"message": msg})
}

// Gateway tracks connections and named broadcast groups. Rooms and games
// each get a group; registry callbacks fan snapshots out through it.
type Gateway struct {
	mu     sync.Mutex
	conns  map[uuid.UUID]*WSConn
	groups map[string]map[uuid.UUID]*WSConn

	Logger *logrus.Logger
}

// NewGateway returns an empty gateway.
func NewGateway(logger *logrus.Logger) *Gateway {
	return &Gateway{
		conns:  make(map[uuid.UUID]*WSConn),
		groups: make(map[string]map[uuid.UUID]*WSConn),
		Logger: logger,
	}
}

// Register installs the user's connection, replacing and cancelling any
// previous one. One live socket per user per endpoint.
func (g *Gateway) Register(conn *WSConn) {
	g.mu.Lock()
	prev := g.conns[conn.UserID]
	g.conns[conn.UserID] = conn
	g.mu.Unlock()
	if prev != nil && prev != conn {
		prev.Cancel()
	}
}

// Unregister drops the connection and removes it from every group. A stale
// connection that was already replaced is left alone.
func (g *Gateway) Unregister(conn *WSConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conns[conn.UserID] == conn {
		delete(g.conns, conn.UserID)
	}
	for name, members := range g.groups {
		if members[conn.UserID] == conn {
			delete(members, conn.UserID)
			if len(members) == 0 {
				delete(g.groups, name)
			}
		}
	}
}

// JoinGroup adds the user's current connection to a named group.
func (g *Gateway) JoinGroup(name string, userID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conn, ok := g.conns[userID]
	if !ok {
		return
	}
	if g.groups[name] == nil {
		g.groups[name] = make(map[uuid.UUID]*WSConn)
	}
	g.groups[name][userID] = conn
}

// LeaveGroup removes the user from a named group.
func (g *Gateway) LeaveGroup(name string, userID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if members, ok := g.groups[name]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(g.groups, name)
		}
	}
}

// Broadcast queues a frame for every member of a group.
func (g *Gateway) Broadcast(group, event string, data interface{}) {
	g.mu.Lock()
	members := make([]*WSConn, 0, len(g.groups[group]))
	for _, conn := range g.groups[group] {
		members = append(members, conn)
	}
	g.mu.Unlock()
	for _, conn := range members {
		conn.Send(event, data)
	}
}

// DropGroup broadcasts a final frame to a group and forgets it.
func (g *Gateway) DropGroup(group, event string, data interface{}) {
	g.mu.Lock()
	members := make([]*WSConn, 0, len(g.groups[group]))
	for _, conn := range g.groups[group] {
		members = append(members, conn)
	}
	delete(g.groups, group)
	g.mu.Unlock()
	for _, conn := range members {
		conn.Send(event, data)
	}
}

// BroadcastAll queues a frame for every connected user.
func (g *Gateway) BroadcastAll(event string, data interface{}) {
	g.mu.Lock()
	conns := make([]*WSConn, 0, len(g.conns))
	for _, conn := range g.conns {
		conns = append(conns, conn)
	}
	g.mu.Unlock()
	for _, conn := range conns {
		conn.Send(event, data)
	}
}

// writePump drains the connection's OutChan onto the socket and keeps the
// connection alive with periodic pings. Exits on context cancellation or
// any write failure; the read pump notices the broken socket.
func writePump(ctx context.Context, c *websocket.Conn, conn *WSConn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				logger.Warnf("failed to marshal outgoing frame for user %v: %v", conn.UserID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("failed to write to websocket for user %v: %v", conn.UserID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("failed to ping user %v: %v, assuming disconnect", conn.UserID, err)
				return
			}
		}
	}
}
