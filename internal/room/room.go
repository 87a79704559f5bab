// internal/room/room.go
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a room.
type Status string

const (
	StatusLobby  Status = "lobby"
	StatusInGame Status = "in-game"
	StatusEnded  Status = "ended"
)

// MaxPlayers is the hard seat limit per room.
const MaxPlayers = 2

// Player is one occupant of a room. Ready flags are per-room and start false;
// they are never migrated across rematches.
type Player struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	IsReady     bool      `json:"isReady"`
}

// Room is an ephemeral pre-match lobby holding one or two players.
//
// A room with TargetElo set is a matchmaking room: it was created on behalf of
// a queued player and is eligible for automatic pairing. The registry owns the
// matchmaking timeout timer; the room only carries the data.
//
// Mu guards all mutable fields. Lock ordering is registry mutex before room
// mutex, never the reverse.
type Room struct {
	ID        uuid.UUID `json:"id"`
	CreatorID uuid.UUID `json:"creatorId"`
	Code      int       `json:"code"`
	IsPrivate bool      `json:"isPrivate"`
	TargetElo *int      `json:"targetElo,omitempty"`
	Players   []Player  `json:"players"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`

	Mu sync.Mutex `json:"-"`
}

// Snapshot is the full room state pushed to clients. Every data event carries
// a complete snapshot, not a diff.
type Snapshot struct {
	ID        uuid.UUID `json:"id"`
	CreatorID uuid.UUID `json:"creatorId"`
	Code      int       `json:"code"`
	IsPrivate bool      `json:"isPrivate"`
	TargetElo *int      `json:"targetElo,omitempty"`
	Players   []Player  `json:"players"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// snapshotUnsafe copies the room state. Assumes Mu is held.
func (r *Room) snapshotUnsafe() *Snapshot {
	players := make([]Player, len(r.Players))
	copy(players, r.Players)
	return &Snapshot{
		ID:        r.ID,
		CreatorID: r.CreatorID,
		Code:      r.Code,
		IsPrivate: r.IsPrivate,
		TargetElo: r.TargetElo,
		Players:   players,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
}

// Snapshot returns a copy of the current room state.
func (r *Room) Snapshot() *Snapshot {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.snapshotUnsafe()
}

// hasPlayerUnsafe reports whether userID occupies a seat. Assumes Mu is held.
func (r *Room) hasPlayerUnsafe(userID uuid.UUID) bool {
	for _, p := range r.Players {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// addPlayerUnsafe seats a player. Assumes Mu is held.
func (r *Room) addPlayerUnsafe(userID uuid.UUID, displayName string) error {
	if len(r.Players) >= MaxPlayers {
		return ErrRoomFull
	}
	if r.hasPlayerUnsafe(userID) {
		return ErrAlreadyInRoom
	}
	r.Players = append(r.Players, Player{ID: userID, DisplayName: displayName})
	return nil
}

// removePlayerUnsafe unseats a player and returns their display name.
// Assumes Mu is held.
func (r *Room) removePlayerUnsafe(userID uuid.UUID) (string, bool) {
	for i, p := range r.Players {
		if p.ID == userID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			return p.DisplayName, true
		}
	}
	return "", false
}

// isMatchmakingUnsafe reports whether this room was created by the
// matchmaking queue. Assumes Mu is held.
func (r *Room) isMatchmakingUnsafe() bool {
	return r.TargetElo != nil
}
