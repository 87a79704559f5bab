// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/flotilla-gg/flotilla/internal/auth"
	"github.com/flotilla-gg/flotilla/internal/game"
	"github.com/flotilla-gg/flotilla/internal/room"
)

// clientPacket is the envelope clients send on every WS endpoint.
type clientPacket struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// roomGroup names the broadcast group for one room.
func roomGroup(roomID uuid.UUID) string {
	return "room:" + roomID.String()
}

// gameGroup names the broadcast group for one match.
func gameGroup(gameID uuid.UUID) string {
	return "game:" + gameID.String()
}

// WireRoomEvents connects the room registry's callbacks to the gateway so
// registry-initiated changes (matchmaking pairings, timeout teardowns) reach
// clients. Callbacks run with registry locks held, so they only queue frames.
func WireRoomEvents(gw *Gateway, rooms *room.Registry) {
	rooms.OnRoomData = func(snap *room.Snapshot) {
		for _, p := range snap.Players {
			gw.JoinGroup(roomGroup(snap.ID), p.ID)
		}
		gw.Broadcast(roomGroup(snap.ID), "room-data", snap)
	}
	rooms.OnMatchFound = func(snap *room.Snapshot) {
		for _, p := range snap.Players {
			gw.JoinGroup(roomGroup(snap.ID), p.ID)
		}
		gw.Broadcast(roomGroup(snap.ID), "match-found", snap)
	}
	rooms.OnRoomClosed = func(roomID uuid.UUID) {
		gw.DropGroup(roomGroup(roomID), "room-closed", map[string]string{"roomId": roomID.String()})
	}
	rooms.OnPlayerLeft = func(roomID uuid.UUID, displayName string) {
		gw.Broadcast(roomGroup(roomID), "player-left", map[string]string{"displayName": displayName})
	}
	rooms.OnRoomList = func(list []*room.Snapshot) {
		gw.BroadcastAll("rooms", list)
	}
}

// RoomWSHandler runs the lobby-side WebSocket flow: room creation, joins,
// ready flags, and the matchmaking queue.
func RoomWSHandler(logger *logrus.Logger, gw *Gateway, rooms *room.Registry, games *game.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"room"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "room" {
			c.Close(BadSubprotocolError, "client must speak the room subprotocol")
			return
		}

		userID, err := auth.UserIDFromRequest(r)
		if err != nil {
			logger.Warnf("room ws auth failed: %v", err)
			c.Close(InvalidAuthTokenError, "authentication failed")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		conn := &WSConn{
			UserID:  userID,
			OutChan: make(chan Frame, 32),
			Cancel:  cancel,
		}
		gw.Register(conn)
		logger.Infof("User %v (%s) connected to room ws", userID, r.RemoteAddr)

		// Greet with the current room list.
		conn.Send("rooms", rooms.Rooms())

		go writePump(ctx, c, conn, logger)
		roomReadPump(ctx, c, conn, gw, rooms, games, logger)

		gw.Unregister(conn)
		cancel()
		logger.Infof("User %v disconnected from room ws", userID)
	}
}

func roomReadPump(ctx context.Context, c *websocket.Conn, conn *WSConn, gw *Gateway, rooms *room.Registry, games *game.Registry, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus != websocket.StatusNormalClosure &&
				closeStatus != websocket.StatusGoingAway &&
				!strings.Contains(err.Error(), "context canceled") {
				logger.Warnf("room ws read error for user %v: %v", conn.UserID, err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var packet clientPacket
		if err := json.Unmarshal(msg, &packet); err != nil {
			conn.WriteError("invalid JSON format")
			continue
		}
		handleRoomMessage(ctx, packet, conn, gw, rooms, games, logger)
	}
}

func handleRoomMessage(ctx context.Context, packet clientPacket, conn *WSConn, gw *Gateway, rooms *room.Registry, games *game.Registry, logger *logrus.Logger) {
	switch packet.Event {
	case "create-room":
		var body struct {
			IsPrivate bool `json:"isPrivate"`
		}
		_ = json.Unmarshal(packet.Data, &body)
		snap, err := rooms.CreateRoom(ctx, conn.UserID, body.IsPrivate)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		gw.JoinGroup(roomGroup(snap.ID), conn.UserID)
		conn.Send("room-created", snap)

	case "join-room":
		var body struct {
			RoomID uuid.UUID `json:"roomId"`
		}
		if err := json.Unmarshal(packet.Data, &body); err != nil {
			conn.WriteError("invalid roomId")
			return
		}
		if _, err := rooms.JoinRoom(ctx, body.RoomID, conn.UserID); err != nil {
			conn.WriteError(err.Error())
		}

	case "join-room-by-code":
		var body struct {
			Code int `json:"code"`
		}
		if err := json.Unmarshal(packet.Data, &body); err != nil {
			conn.WriteError("invalid code")
			return
		}
		if _, err := rooms.JoinRoomByCode(ctx, body.Code, conn.UserID); err != nil {
			conn.WriteError(err.Error())
		}

	case "set-ready":
		var body struct {
			RoomID uuid.UUID `json:"roomId"`
		}
		if err := json.Unmarshal(packet.Data, &body); err != nil {
			conn.WriteError("invalid roomId")
			return
		}
		snap, err := rooms.SetReady(body.RoomID, conn.UserID)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		if allReady(snap) {
			promoteRoom(ctx, gw, rooms, games, snap, logger)
		}

	case "start-matchmaking":
		snap, matched, err := rooms.StartMatchmaking(ctx, conn.UserID)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		if !matched {
			gw.JoinGroup(roomGroup(snap.ID), conn.UserID)
			conn.Send("queued", snap)
		}

	case "leave-queue":
		rooms.LeaveQueue(conn.UserID)
		conn.Send("queue-left", nil)

	case "leave-room":
		var body struct {
			RoomID uuid.UUID `json:"roomId"`
		}
		if err := json.Unmarshal(packet.Data, &body); err != nil {
			conn.WriteError("invalid roomId")
			return
		}
		if _, err := rooms.LeaveRoom(body.RoomID, conn.UserID); err != nil && !errors.Is(err, room.ErrRoomNotFound) {
			conn.WriteError(err.Error())
		}

	case "get-rooms":
		conn.Send("rooms", rooms.Rooms())

	default:
		logger.Warnf("room ws: unknown event %q from user %v", packet.Event, conn.UserID)
		conn.WriteError("unknown event: " + packet.Event)
	}
}

// allReady reports whether the room is full with every seat flagged ready.
func allReady(snap *room.Snapshot) bool {
	if len(snap.Players) != room.MaxPlayers {
		return false
	}
	for _, p := range snap.Players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// promoteRoom turns a fully ready room into a match. The room flips to
// in-game first so a concurrent ready toggle cannot promote it twice.
func promoteRoom(ctx context.Context, gw *Gateway, rooms *room.Registry, games *game.Registry, snap *room.Snapshot, logger *logrus.Logger) {
	seats, err := rooms.MarkInGame(snap.ID)
	if err != nil {
		logger.Warnf("room %s promotion aborted: %v", snap.ID, err)
		return
	}

	gameSeats := make([]game.Seat, len(seats))
	for i, s := range seats {
		gameSeats[i] = game.Seat{UserID: s.UserID, DisplayName: s.DisplayName}
	}
	gsnap, err := games.CreateGame(ctx, snap.ID, gameSeats)
	if err != nil {
		logger.Errorf("room %s: game creation failed: %v", snap.ID, err)
		gw.Broadcast(roomGroup(snap.ID), "error", map[string]string{"message": "failed to start game"})
		rooms.CloseRoom(snap.ID)
		return
	}

	for _, s := range seats {
		gw.JoinGroup(gameGroup(gsnap.ID), s.UserID)
	}
	gw.Broadcast(roomGroup(snap.ID), "game-created", gsnap)
	// The room's job is done once the match exists.
	rooms.CloseRoom(snap.ID)
	logger.Infof("room %s promoted to game %s", snap.ID, gsnap.ID)
}
