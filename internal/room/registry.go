// internal/room/registry.go
package room

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flotilla-gg/flotilla/internal/models"
)

// IdentityLookup resolves a user id to display name and current rating.
// The production implementation lives in internal/database.
type IdentityLookup interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*models.Identity, error)
}

// Seat is one ordered player handed to the game registry when a room is
// promoted into a match.
type Seat struct {
	UserID      uuid.UUID
	DisplayName string
}

const (
	// DefaultMatchTimeout is how long a matchmaking room waits for an
	// opponent before it is torn down and its occupant re-offered.
	DefaultMatchTimeout = 10 * time.Second
	// DefaultEloWindow bounds matchmaking compatibility: a candidate room
	// qualifies when |targetElo - requesterElo| <= window.
	DefaultEloWindow = 100

	codeMin = 1000
	codeMax = 9999
)

// Registry owns every active room in the process. It creates, joins, matches,
// and destroys rooms, and runs the matchmaking timeout policy. All membership
// changes go through the registry so the code index and insertion order never
// drift from the room map.
type Registry struct {
	mu     sync.Mutex
	rooms  map[uuid.UUID]*Room
	order  []uuid.UUID // insertion order, drives deterministic matchmaking scans
	codes  map[int]uuid.UUID
	timers map[uuid.UUID]*time.Timer // matchmaking timeout per room

	identity IdentityLookup
	rng      *rand.Rand

	// MatchTimeout and EloWindow are set to the defaults by NewRegistry and
	// may be overridden before the registry is shared between goroutines.
	MatchTimeout time.Duration
	EloWindow    int

	// Gateway callbacks. All are optional; the registry never blocks on them.
	OnRoomData   func(snap *Snapshot)
	OnRoomClosed func(roomID uuid.UUID)
	OnPlayerLeft func(roomID uuid.UUID, displayName string)
	OnRoomList   func(rooms []*Snapshot)
	OnMatchFound func(snap *Snapshot)
}

// NewRegistry returns an empty registry with default matchmaking policy.
func NewRegistry(identity IdentityLookup) *Registry {
	return &Registry{
		rooms:        make(map[uuid.UUID]*Room),
		codes:        make(map[int]uuid.UUID),
		timers:       make(map[uuid.UUID]*time.Timer),
		identity:     identity,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		MatchTimeout: DefaultMatchTimeout,
		EloWindow:    DefaultEloWindow,
	}
}

// CreateRoom makes a new lobby room seeded with the creator and returns its
// snapshot. Codes are unique among active rooms only; a closed room's code
// may be reused.
func (reg *Registry) CreateRoom(ctx context.Context, creatorID uuid.UUID, isPrivate bool) (*Snapshot, error) {
	ident, err := reg.identity.Resolve(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("resolve creator %s: %w", creatorID, err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	r := reg.createRoomLocked(ident, isPrivate, nil)
	snap := r.Snapshot()
	reg.fireRoomListLocked()
	return snap, nil
}

// createRoomLocked builds and indexes a room. Assumes the registry lock is
// held. When targetElo is non-nil the room joins the matchmaking pool and the
// caller is responsible for scheduling its timeout.
func (reg *Registry) createRoomLocked(creator *models.Identity, isPrivate bool, targetElo *int) *Room {
	id, _ := uuid.NewRandom()
	r := &Room{
		ID:        id,
		CreatorID: creator.UserID,
		Code:      reg.generateCodeLocked(),
		IsPrivate: isPrivate,
		TargetElo: targetElo,
		Players:   []Player{{ID: creator.UserID, DisplayName: creator.DisplayName}},
		Status:    StatusLobby,
		CreatedAt: time.Now(),
	}
	reg.rooms[r.ID] = r
	reg.order = append(reg.order, r.ID)
	reg.codes[r.Code] = r.ID
	log.Printf("RoomRegistry: created room %s (code %d, private %v, matchmaking %v)", r.ID, r.Code, isPrivate, targetElo != nil)
	return r
}

// generateCodeLocked picks a 4-digit code distinct from every active room,
// regenerating on collision. Assumes the registry lock is held.
func (reg *Registry) generateCodeLocked() int {
	for {
		code := codeMin + reg.rng.Intn(codeMax-codeMin+1)
		if _, taken := reg.codes[code]; !taken {
			return code
		}
	}
}

// JoinRoom seats userID in the given room. Duplicate joins are rejected.
func (reg *Registry) JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (*Snapshot, error) {
	ident, err := reg.identity.Resolve(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve joiner %s: %w", userID, err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.joinLocked(roomID, ident)
}

// joinLocked performs the seat append and pairing notification. Assumes the
// registry lock is held.
func (reg *Registry) joinLocked(roomID uuid.UUID, ident *models.Identity) (*Snapshot, error) {
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	r.Mu.Lock()
	if r.Status != StatusLobby {
		r.Mu.Unlock()
		return nil, ErrRoomNotJoinable
	}
	if err := r.addPlayerUnsafe(ident.UserID, ident.DisplayName); err != nil {
		r.Mu.Unlock()
		return nil, err
	}
	paired := r.isMatchmakingUnsafe() && len(r.Players) == MaxPlayers
	snap := r.snapshotUnsafe()
	r.Mu.Unlock()

	if paired {
		// Early pairing cancels the pending matchmaking timeout.
		reg.cancelTimerLocked(roomID)
		reg.fireMatchFound(snap)
	} else {
		reg.fireRoomData(snap)
	}
	return snap, nil
}

// JoinRoomByCode resolves an active room code and delegates to JoinRoom.
func (reg *Registry) JoinRoomByCode(ctx context.Context, code int, userID uuid.UUID) (*Snapshot, error) {
	ident, err := reg.identity.Resolve(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve joiner %s: %w", userID, err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	roomID, ok := reg.codes[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return reg.joinLocked(roomID, ident)
}

// LeaveRoom removes userID and unconditionally destroys the room. An explicit
// leave never tries to keep a one-player lobby alive; only the matchmaking
// timeout path re-pairs. Returns the leaving player's display name.
func (reg *Registry) LeaveRoom(roomID, userID uuid.UUID) (string, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return "", ErrRoomNotFound
	}

	r.Mu.Lock()
	name, found := r.removePlayerUnsafe(userID)
	r.Mu.Unlock()
	if !found {
		return "", ErrPlayerNotFound
	}

	reg.removeRoomLocked(roomID)
	if name != "" {
		reg.firePlayerLeft(roomID, name)
	}
	reg.fireRoomClosed(roomID)
	reg.fireRoomListLocked()
	return name, nil
}

// SetReady flips the player's ready flag and returns the updated snapshot.
// Game creation is driven by the gateway observing both players ready.
func (reg *Registry) SetReady(roomID, userID uuid.UUID) (*Snapshot, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()
	for i := range r.Players {
		if r.Players[i].ID == userID {
			r.Players[i].IsReady = !r.Players[i].IsReady
			snap := r.snapshotUnsafe()
			reg.fireRoomData(snap)
			return snap, nil
		}
	}
	return nil, ErrPlayerNotFound
}

// StartMatchmaking pairs the requester with the first compatible waiting room
// (insertion order, no best-fit ranking) or creates a fresh matchmaking room
// for them. Returns the room snapshot and whether a pairing happened.
func (reg *Registry) StartMatchmaking(ctx context.Context, userID uuid.UUID) (*Snapshot, bool, error) {
	ident, err := reg.identity.Resolve(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("resolve matchmaking user %s: %w", userID, err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if cand := reg.findCompatibleLocked(ident.Elo, ident.UserID); cand != nil {
		snap, err := reg.joinLocked(cand.ID, ident)
		if err != nil {
			return nil, false, err
		}
		return snap, true, nil
	}

	elo := ident.Elo
	r := reg.createRoomLocked(ident, false, &elo)
	reg.scheduleTimeoutLocked(r.ID)
	snap := r.Snapshot()
	reg.fireRoomData(snap)
	return snap, false, nil
}

// LeaveQueue removes the user from whatever matchmaking room they occupy,
// destroying the room if it is now empty.
func (reg *Registry) LeaveQueue(userID uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, id := range reg.order {
		r, ok := reg.rooms[id]
		if !ok {
			continue
		}
		r.Mu.Lock()
		if !r.isMatchmakingUnsafe() || !r.hasPlayerUnsafe(userID) {
			r.Mu.Unlock()
			continue
		}
		r.removePlayerUnsafe(userID)
		empty := len(r.Players) == 0
		snap := r.snapshotUnsafe()
		r.Mu.Unlock()

		if empty {
			reg.removeRoomLocked(id)
			reg.fireRoomClosed(id)
		} else {
			reg.fireRoomData(snap)
		}
		reg.fireRoomListLocked()
		return
	}
}

// findCompatibleLocked scans active rooms in insertion order for a
// non-private matchmaking room with exactly one occupant within the elo
// window that does not already contain the requester. Assumes the registry
// lock is held.
func (reg *Registry) findCompatibleLocked(elo int, requester uuid.UUID) *Room {
	for _, id := range reg.order {
		r, ok := reg.rooms[id]
		if !ok {
			continue
		}
		r.Mu.Lock()
		ok = !r.IsPrivate &&
			r.Status == StatusLobby &&
			r.isMatchmakingUnsafe() &&
			len(r.Players) == 1 &&
			!r.hasPlayerUnsafe(requester) &&
			abs(*r.TargetElo-elo) <= reg.EloWindow
		r.Mu.Unlock()
		if ok {
			return r
		}
	}
	return nil
}

// scheduleTimeoutLocked arms the matchmaking timeout for a room. Assumes the
// registry lock is held.
func (reg *Registry) scheduleTimeoutLocked(roomID uuid.UUID) {
	reg.timers[roomID] = time.AfterFunc(reg.MatchTimeout, func() {
		reg.matchTimeoutFired(roomID)
	})
}

// cancelTimerLocked stops and forgets a room's matchmaking timer, if any.
// Assumes the registry lock is held.
func (reg *Registry) cancelTimerLocked(roomID uuid.UUID) {
	if t, ok := reg.timers[roomID]; ok {
		t.Stop()
		delete(reg.timers, roomID)
	}
}

// matchTimeoutFired runs when a matchmaking room's wait expires. It
// re-validates the room under the registry lock: a room that paired, started,
// or was destroyed in the meantime makes this a silent no-op. Otherwise the
// room is torn down and its sole occupant re-offered exactly once: they
// either join a compatible room or get a fresh matchmaking room with a new
// timeout, so each retry leaves at most one room per waiting player.
func (reg *Registry) matchTimeoutFired(roomID uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.timers, roomID)

	r, ok := reg.rooms[roomID]
	if !ok {
		return // destroyed before the timer fired
	}

	r.Mu.Lock()
	if r.Status != StatusLobby || len(r.Players) >= MaxPlayers {
		r.Mu.Unlock()
		return // already paired or promoted
	}
	var occupant *models.Identity
	if len(r.Players) == 1 {
		occupant = &models.Identity{
			UserID:      r.Players[0].ID,
			DisplayName: r.Players[0].DisplayName,
		}
		if r.TargetElo != nil {
			occupant.Elo = *r.TargetElo
		}
	}
	r.Mu.Unlock()

	log.Printf("RoomRegistry: matchmaking timeout for room %s, tearing down", roomID)
	reg.removeRoomLocked(roomID)
	reg.fireRoomClosed(roomID)

	if occupant != nil {
		if cand := reg.findCompatibleLocked(occupant.Elo, occupant.UserID); cand != nil {
			if _, err := reg.joinLocked(cand.ID, occupant); err != nil {
				log.Printf("RoomRegistry: re-offer of %s to room %s failed: %v", occupant.UserID, cand.ID, err)
			}
		} else {
			elo := occupant.Elo
			nr := reg.createRoomLocked(occupant, false, &elo)
			reg.scheduleTimeoutLocked(nr.ID)
			reg.fireRoomData(nr.Snapshot())
		}
	}
	reg.fireRoomListLocked()
}

// MarkInGame validates that the room seats exactly two players, flips it to
// in-game, and returns the ordered seats for match creation.
func (reg *Registry) MarkInGame(roomID uuid.UUID) ([]Seat, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.Status != StatusLobby {
		return nil, ErrRoomNotJoinable
	}
	if len(r.Players) != MaxPlayers {
		return nil, fmt.Errorf("room %s has %d player(s): %w", roomID, len(r.Players), ErrRoomNotJoinable)
	}
	r.Status = StatusInGame
	reg.cancelTimerLocked(roomID)

	seats := make([]Seat, len(r.Players))
	for i, p := range r.Players {
		seats[i] = Seat{UserID: p.ID, DisplayName: p.DisplayName}
	}
	return seats, nil
}

// CloseRoom removes a room outright, releasing its code and firing the
// closed and list events. Called once a promoted room's match exists; rooms
// do not outlive promotion.
func (reg *Registry) CloseRoom(roomID uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.rooms[roomID]; !ok {
		return
	}
	reg.removeRoomLocked(roomID)
	reg.fireRoomClosed(roomID)
	reg.fireRoomListLocked()
}

// GetRoom returns a snapshot of one active room.
func (reg *Registry) GetRoom(roomID uuid.UUID) (*Snapshot, error) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	reg.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.Snapshot(), nil
}

// Rooms lists all active rooms in insertion order.
func (reg *Registry) Rooms() []*Snapshot {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.roomListLocked()
}

// roomListLocked builds the ordered snapshot list. Assumes the registry lock
// is held.
func (reg *Registry) roomListLocked() []*Snapshot {
	out := make([]*Snapshot, 0, len(reg.rooms))
	for _, id := range reg.order {
		if r, ok := reg.rooms[id]; ok {
			out = append(out, r.Snapshot())
		}
	}
	return out
}

// removeRoomLocked drops a room from every index and cancels its timer.
// Assumes the registry lock is held.
func (reg *Registry) removeRoomLocked(roomID uuid.UUID) {
	r, ok := reg.rooms[roomID]
	if !ok {
		return
	}
	reg.cancelTimerLocked(roomID)
	delete(reg.rooms, roomID)
	delete(reg.codes, r.Code)
	for i, id := range reg.order {
		if id == roomID {
			reg.order = append(reg.order[:i], reg.order[i+1:]...)
			break
		}
	}
	log.Printf("RoomRegistry: removed room %s (code %d)", roomID, r.Code)
}

// Shutdown stops every pending matchmaking timer and clears the registry.
// Intended for process teardown and test cleanup.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for id, t := range reg.timers {
		t.Stop()
		delete(reg.timers, id)
	}
	reg.rooms = make(map[uuid.UUID]*Room)
	reg.codes = make(map[int]uuid.UUID)
	reg.order = nil
}

func (reg *Registry) fireRoomData(snap *Snapshot) {
	if reg.OnRoomData != nil {
		reg.OnRoomData(snap)
	}
}

func (reg *Registry) fireRoomClosed(roomID uuid.UUID) {
	if reg.OnRoomClosed != nil {
		reg.OnRoomClosed(roomID)
	}
}

func (reg *Registry) firePlayerLeft(roomID uuid.UUID, displayName string) {
	if reg.OnPlayerLeft != nil {
		reg.OnPlayerLeft(roomID, displayName)
	}
}

func (reg *Registry) fireRoomListLocked() {
	if reg.OnRoomList != nil {
		reg.OnRoomList(reg.roomListLocked())
	}
}

func (reg *Registry) fireMatchFound(snap *Snapshot) {
	if reg.OnMatchFound != nil {
		reg.OnMatchFound(snap)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
