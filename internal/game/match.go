// internal/game/match.go
package game

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flotilla-gg/flotilla/internal/cache"
	"github.com/flotilla-gg/flotilla/internal/models"
)

// Status is the lifecycle phase of a match.
type Status string

const (
	// StatusOrganizing is the fleet placement phase. Both players arrange
	// ships and flag ready; no shots are legal yet.
	StatusOrganizing Status = "organizing-boats"
	// StatusInGame is the active turn exchange phase.
	StatusInGame Status = "in-game"
	// StatusEnded is terminal. Ended matches stay queryable until evicted.
	StatusEnded Status = "ended"
)

// MaxMessages bounds the per-match chat buffer. The oldest message is
// evicted when a new one would exceed the cap.
const MaxMessages = 100

// PlayerState is one seat in a match: identity plus everything the player
// has submitted. SelectedCells is append-only; a shot is never retracted.
type PlayerState struct {
	UserID        uuid.UUID     `json:"userId"`
	DisplayName   string        `json:"displayName"`
	IsReady       bool          `json:"isReady"`
	Ships         []models.Ship `json:"ships"`
	SelectedCells []models.Cell `json:"selectedCells"`
}

// Match is one live two-player engagement. The registry owns match creation
// and destruction; Mu guards all mutable fields. Lock ordering is registry
// mutex before match mutex, never the reverse.
type Match struct {
	ID            uuid.UUID  `json:"id"`
	RoomID        uuid.UUID  `json:"roomId"`
	Status        Status     `json:"status"`
	Players       []*PlayerState
	CurrentTurn   uuid.UUID            `json:"currentTurn"`
	WinnerID      *uuid.UUID           `json:"winnerId,omitempty"`
	LeavingUserID *uuid.UUID           `json:"leavingUserId,omitempty"`
	Messages      []models.ChatMessage `json:"messages"`
	CreatedAt     time.Time            `json:"createdAt"`

	Mu sync.Mutex `json:"-"`
}

// Snapshot is the full match state pushed to both clients after every
// accepted action. Clients re-render from it wholesale.
type Snapshot struct {
	ID            uuid.UUID            `json:"id"`
	RoomID        uuid.UUID            `json:"roomId"`
	Status        Status               `json:"status"`
	Players       []PlayerState        `json:"players"`
	CurrentTurn   uuid.UUID            `json:"currentTurn"`
	WinnerID      *uuid.UUID           `json:"winnerId,omitempty"`
	LeavingUserID *uuid.UUID           `json:"leavingUserId,omitempty"`
	Messages      []models.ChatMessage `json:"messages"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// snapshotUnsafe deep-copies the match state. Assumes Mu is held.
func (m *Match) snapshotUnsafe() *Snapshot {
	players := make([]PlayerState, len(m.Players))
	for i, p := range m.Players {
		cp := *p
		cp.Ships = append([]models.Ship(nil), p.Ships...)
		cp.SelectedCells = append([]models.Cell(nil), p.SelectedCells...)
		players[i] = cp
	}
	msgs := append([]models.ChatMessage(nil), m.Messages...)
	return &Snapshot{
		ID:            m.ID,
		RoomID:        m.RoomID,
		Status:        m.Status,
		Players:       players,
		CurrentTurn:   m.CurrentTurn,
		WinnerID:      m.WinnerID,
		LeavingUserID: m.LeavingUserID,
		Messages:      msgs,
		CreatedAt:     m.CreatedAt,
	}
}

// Snapshot returns a copy of the current match state.
func (m *Match) Snapshot() *Snapshot {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.snapshotUnsafe()
}

// playerUnsafe finds the seat for userID. Assumes Mu is held.
func (m *Match) playerUnsafe(userID uuid.UUID) *PlayerState {
	for _, p := range m.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// opponentUnsafe finds the seat that is not userID. Assumes Mu is held.
func (m *Match) opponentUnsafe(userID uuid.UUID) *PlayerState {
	for _, p := range m.Players {
		if p.UserID != userID {
			return p
		}
	}
	return nil
}

// bothReadyUnsafe reports whether every seat has flagged ready. Assumes Mu
// is held.
func (m *Match) bothReadyUnsafe() bool {
	for _, p := range m.Players {
		if !p.IsReady {
			return false
		}
	}
	return len(m.Players) == 2
}

// addMessageUnsafe appends to the chat ring, evicting the oldest entry at
// the cap. Assumes Mu is held.
func (m *Match) addMessageUnsafe(msg models.ChatMessage) {
	if len(m.Messages) >= MaxMessages {
		m.Messages = m.Messages[1:]
	}
	m.Messages = append(m.Messages, msg)
}

// logEvent journals one match action if Redis is wired. Fire-and-forget so
// a slow or absent journal never touches the hot path.
func (m *Match) logEvent(actorID uuid.UUID, kind string, payload interface{}) {
	if cache.Rdb == nil {
		return
	}
	rec := cache.MatchEventRecord{
		GameID:    m.ID,
		ActorID:   actorID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	go cache.PublishMatchEvent(context.Background(), rec)
}
