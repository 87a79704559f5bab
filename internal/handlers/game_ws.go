// internal/handlers/game_ws.go
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
	"github.com/flotilla-gg/flotilla/internal/models"
)

// WireGameEvents connects the game registry's callbacks to the gateway so
// registry-initiated changes (grace expiry forfeits) reach both clients.
func WireGameEvents(gw *Gateway, games *game.Registry) {
	games.OnGameData = func(snap *game.Snapshot) {
		gw.Broadcast(gameGroup(snap.ID), "game-data", snap)
	}
}

// GameWSHandler runs the in-match WebSocket flow: fleet placement, shots,
// chat, and forfeits. A connection here also cancels any pending disconnect
// grace clock for the user.
func GameWSHandler(logger *logrus.Logger, gw *Gateway, games *game.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"game"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "game" {
			c.Close(BadSubprotocolError, "client must speak the game subprotocol")
			return
		}

		userID, err := auth.UserIDFromRequest(r)
		if err != nil {
			logger.Warnf("game ws auth failed: %v", err)
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
		games.HandleReconnect(userID)
		logger.Infof("User %v (%s) connected to game ws", userID, r.RemoteAddr)

		// Restore the user into their live match, if any.
		if snap, err := games.GetInProgressGame(userID); err == nil {
			gw.JoinGroup(gameGroup(snap.ID), userID)
			conn.Send("game-data", snap)
		}

		go writePump(ctx, c, conn, logger)
		gameReadPump(ctx, c, conn, gw, games, logger)

		gw.Unregister(conn)
		cancel()

		// The socket is gone; start the grace clock if a match is live.
		games.HandleDisconnect(userID)
		logger.Infof("User %v disconnected from game ws", userID)
	}
}

func gameReadPump(ctx context.Context, c *websocket.Conn, conn *WSConn, gw *Gateway, games *game.Registry, logger *logrus.Logger) {
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
				logger.Warnf("game ws read error for user %v: %v", conn.UserID, err)
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
		handleGameMessage(ctx, packet, conn, gw, games, logger)
	}
}

func handleGameMessage(ctx context.Context, packet clientPacket, conn *WSConn, gw *Gateway, games *game.Registry, logger *logrus.Logger) {
	switch packet.Event {
	case "get-in-progress-game":
		snap, err := games.GetInProgressGame(conn.UserID)
		if err != nil {
			conn.Send("no-game", nil)
			return
		}
		gw.JoinGroup(gameGroup(snap.ID), conn.UserID)
		conn.Send("game-data", snap)

	case "set-player-ready":
		var body struct {
			GameID uuid.UUID     `json:"gameId"`
			Ships  []models.Ship `json:"ships"`
		}
		if err := json.Unmarshal(packet.Data, &body); err != nil {
			conn.WriteError("invalid payload")
			return
		}
		snap, err := games.SetPlayerReady(body.GameID, conn.UserID, body.Ships)
		if err != nil {
			sendGameError(conn, err)
			return
		}
		gw.Broadcast(gameGroup(snap.ID), "game-data", snap)

	case "set-player-selected-cells":
		var body struct {
			GameID   uuid.UUID   `json:"gameId"`
			Cell     models.Cell `json:"cell"`
			IsReplay bool        `json:"isReplay"`
		}
		if err := json.Unmarshal(packet.Data, &body); err != nil {
			conn.WriteError("invalid payload")
			return
		}
		snap, err := games.SetPlayerSelectedCells(body.GameID, conn.UserID, body.Cell, body.IsReplay)
		if err != nil {
			sendGameError(conn, err)
			return
		}
		gw.Broadcast(gameGroup(snap.ID), "game-data", snap)

	case "end-game":
		var body struct {
			GameID   uuid.UUID `json:"gameId"`
			WinnerID uuid.UUID `json:"winnerId"`
		}
		if err := json.Unmarshal(packet.Data, &body); err != nil {
			conn.WriteError("invalid payload")
			return
		}
		snap, err := games.EndGame(ctx, body.GameID, body.WinnerID)
		if err != nil {
			sendGameError(conn, err)
			return
		}
		gw.Broadcast(gameGroup(snap.ID), "game-data", snap)

	case "leave-game":
		snap, err := games.LeaveGame(ctx, conn.UserID)
		if err != nil {
			sendGameError(conn, err)
			return
		}
		if snap != nil {
			gw.Broadcast(gameGroup(snap.ID), "game-data", snap)
		}

	case "send-message":
		var body struct {
			GameID uuid.UUID `json:"gameId"`
			Text   string    `json:"text"`
		}
		if err := json.Unmarshal(packet.Data, &body); err != nil || body.Text == "" {
			conn.WriteError("invalid payload")
			return
		}
		snap, err := games.AddMessage(body.GameID, conn.UserID, body.Text)
		if err != nil {
			sendGameError(conn, err)
			return
		}
		gw.Broadcast(gameGroup(snap.ID), "game-data", snap)

	default:
		logger.Warnf("game ws: unknown event %q from user %v", packet.Event, conn.UserID)
		conn.WriteError("unknown event: " + packet.Event)
	}
}

// sendGameError maps registry errors onto client-facing error frames.
func sendGameError(conn *WSConn, err error) {
	switch {
	case errors.Is(err, game.ErrGameNotFound):
		conn.WriteError("game not found")
	case errors.Is(err, game.ErrPlayerNotFound):
		conn.WriteError("you are not in this game")
	case errors.Is(err, game.ErrInvalidState):
		conn.WriteError("action not allowed right now")
	default:
		conn.WriteError(err.Error())
	}
}
