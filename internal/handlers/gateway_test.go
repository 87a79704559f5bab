// internal/handlers/gateway_test.go
package handlers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(userID uuid.UUID, buf int) (*WSConn, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSConn{
		UserID:  userID,
		OutChan: make(chan Frame, buf),
		Cancel:  cancel,
	}, ctx
}

func drain(c *WSConn) []Frame {
	var out []Frame
	for {
		select {
		case f := <-c.OutChan:
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestRegisterReplacesPreviousConnection(t *testing.T) {
	gw := NewGateway(logrus.New())
	userID := uuid.New()

	first, firstCtx := newTestConn(userID, 4)
	gw.Register(first)
	second, _ := newTestConn(userID, 4)
	gw.Register(second)

	assert.Error(t, firstCtx.Err(), "replaced connection must be cancelled")

	// Group joins resolve to the live connection, not the replaced one.
	gw.JoinGroup("room:1", userID)
	gw.Broadcast("room:1", "hello", nil)
	assert.Empty(t, drain(first))
	frames := drain(second)
	require.Len(t, frames, 1)
	assert.Equal(t, "hello", frames[0].Event)
}

func TestGroupBroadcast(t *testing.T) {
	gw := NewGateway(logrus.New())
	a, _ := newTestConn(uuid.New(), 4)
	b, _ := newTestConn(uuid.New(), 4)
	c, _ := newTestConn(uuid.New(), 4)
	gw.Register(a)
	gw.Register(b)
	gw.Register(c)

	gw.JoinGroup("room:1", a.UserID)
	gw.JoinGroup("room:1", b.UserID)

	gw.Broadcast("room:1", "room-data", 42)
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
	assert.Empty(t, drain(c), "non-members receive nothing")

	gw.LeaveGroup("room:1", b.UserID)
	gw.Broadcast("room:1", "room-data", 43)
	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
}

func TestDropGroupSendsFinalFrame(t *testing.T) {
	gw := NewGateway(logrus.New())
	a, _ := newTestConn(uuid.New(), 4)
	gw.Register(a)
	gw.JoinGroup("room:1", a.UserID)

	gw.DropGroup("room:1", "room-closed", nil)
	frames := drain(a)
	require.Len(t, frames, 1)
	assert.Equal(t, "room-closed", frames[0].Event)

	// The group is gone; further broadcasts are no-ops.
	gw.Broadcast("room:1", "room-data", nil)
	assert.Empty(t, drain(a))
}

func TestUnregisterRemovesFromGroups(t *testing.T) {
	gw := NewGateway(logrus.New())
	a, _ := newTestConn(uuid.New(), 4)
	gw.Register(a)
	gw.JoinGroup("game:1", a.UserID)

	gw.Unregister(a)
	gw.Broadcast("game:1", "game-data", nil)
	assert.Empty(t, drain(a))

	// A join after unregister is a no-op; there is no live connection.
	gw.JoinGroup("game:1", a.UserID)
	gw.Broadcast("game:1", "game-data", nil)
	assert.Empty(t, drain(a))
}

func TestSendDropsWhenBufferFull(t *testing.T) {
	conn, _ := newTestConn(uuid.New(), 1)
	conn.Send("first", nil)
	conn.Send("second", nil)

	frames := drain(conn)
	require.Len(t, frames, 1, "overflow frames are dropped, not blocking")
	assert.Equal(t, "first", frames[0].Event)
}
