// internal/game/registry.go
package game

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flotilla-gg/flotilla/internal/models"
	"github.com/flotilla-gg/flotilla/internal/rating"
)

// RatingStore persists ladder standings when a match concludes. The
// production implementation lives in internal/database.
type RatingStore interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.RatingRecord, error)
	ApplyResult(ctx context.Context, rec *models.RatingRecord) error
	RecordHistory(ctx context.Context, entry models.RatingHistoryEntry) error
}

// ResultStore persists match rows and per-player verdicts.
type ResultStore interface {
	CreateMatch(ctx context.Context, gameID uuid.UUID, playerIDs []uuid.UUID) error
	MarkOutcome(ctx context.Context, outcome models.MatchOutcome) error
}

// Seat is one ordered player a promoted room hands to CreateGame.
type Seat struct {
	UserID      uuid.UUID
	DisplayName string
}

// DefaultGracePeriod is how long a disconnected player keeps their seat
// before the match is forfeited on their behalf.
const DefaultGracePeriod = 30 * time.Second

// Registry owns every live match in the process. It runs the match state
// machine, applies ratings on conclusion, and arbitrates the disconnect
// grace policy.
type Registry struct {
	mu          sync.Mutex
	games       map[uuid.UUID]*Match
	byUser      map[uuid.UUID]map[uuid.UUID]struct{} // userID -> game ids
	graceTimers map[uuid.UUID]*time.Timer            // keyed by userID

	ratings RatingStore
	results ResultStore

	// GracePeriod is set to the default by NewRegistry and may be overridden
	// before the registry is shared between goroutines.
	GracePeriod time.Duration

	// OnGameData, when set, receives the snapshot after any state change
	// the registry initiates itself (grace expiry forfeits). Changes driven
	// by a client action are returned to the caller instead.
	OnGameData func(snap *Snapshot)
}

// NewRegistry returns an empty match registry.
func NewRegistry(ratings RatingStore, results ResultStore) *Registry {
	return &Registry{
		games:       make(map[uuid.UUID]*Match),
		byUser:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
		graceTimers: make(map[uuid.UUID]*time.Timer),
		ratings:     ratings,
		results:     results,
		GracePeriod: DefaultGracePeriod,
	}
}

// CreateGame promotes a room's seats into a new match in the fleet placement
// phase. The match row is persisted before the in-memory match becomes
// visible; the first seat holds the opening turn.
func (reg *Registry) CreateGame(ctx context.Context, roomID uuid.UUID, seats []Seat) (*Snapshot, error) {
	if len(seats) != 2 {
		return nil, fmt.Errorf("game needs 2 seats, got %d: %w", len(seats), ErrInvalidState)
	}

	id, _ := uuid.NewRandom()
	playerIDs := []uuid.UUID{seats[0].UserID, seats[1].UserID}
	if err := reg.results.CreateMatch(ctx, id, playerIDs); err != nil {
		return nil, fmt.Errorf("create match row: %w", err)
	}

	m := &Match{
		ID:          id,
		RoomID:      roomID,
		Status:      StatusOrganizing,
		CurrentTurn: seats[0].UserID,
		CreatedAt:   time.Now(),
	}
	for _, s := range seats {
		m.Players = append(m.Players, &PlayerState{UserID: s.UserID, DisplayName: s.DisplayName})
	}

	reg.mu.Lock()
	reg.games[id] = m
	for _, pid := range playerIDs {
		if reg.byUser[pid] == nil {
			reg.byUser[pid] = make(map[uuid.UUID]struct{})
		}
		reg.byUser[pid][id] = struct{}{}
	}
	reg.mu.Unlock()

	log.Printf("GameRegistry: created game %s from room %s", id, roomID)
	m.logEvent(seats[0].UserID, "game_created", playerIDs)
	return m.Snapshot(), nil
}

// GetGame returns a snapshot of one match, ended matches included.
func (reg *Registry) GetGame(gameID uuid.UUID) (*Snapshot, error) {
	reg.mu.Lock()
	m, ok := reg.games[gameID]
	reg.mu.Unlock()
	if !ok {
		return nil, ErrGameNotFound
	}
	return m.Snapshot(), nil
}

// GetInProgressGame finds the user's match in the combat phase, used to
// restore state after a reconnect. Matches still organizing boats are not
// reported.
func (reg *Registry) GetInProgressGame(userID uuid.UUID) (*Snapshot, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for gid := range reg.byUser[userID] {
		m, ok := reg.games[gid]
		if !ok {
			continue
		}
		m.Mu.Lock()
		inProgress := m.Status == StatusInGame
		snap := m.snapshotUnsafe()
		m.Mu.Unlock()
		if inProgress {
			return snap, nil
		}
	}
	return nil, ErrGameNotFound
}

// findActiveLocked returns the user's non-ended match, if any. Assumes the
// registry lock is held.
func (reg *Registry) findActiveLocked(userID uuid.UUID) *Match {
	for gid := range reg.byUser[userID] {
		m, ok := reg.games[gid]
		if !ok {
			continue
		}
		m.Mu.Lock()
		active := m.Status != StatusEnded
		m.Mu.Unlock()
		if active {
			return m
		}
	}
	return nil
}

// SetPlayerReady toggles the player's ready flag during placement, storing
// the submitted fleet. A second call un-readies, so a player can rearrange
// ships until both seats are ready, at which point the match flips to the
// turn exchange phase.
func (reg *Registry) SetPlayerReady(gameID, userID uuid.UUID, ships []models.Ship) (*Snapshot, error) {
	reg.mu.Lock()
	m, ok := reg.games[gameID]
	reg.mu.Unlock()
	if !ok {
		return nil, ErrGameNotFound
	}

	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Status != StatusOrganizing {
		return nil, ErrInvalidState
	}
	p := m.playerUnsafe(userID)
	if p == nil {
		return nil, ErrPlayerNotFound
	}
	p.IsReady = !p.IsReady
	p.Ships = append([]models.Ship(nil), ships...)
	if m.bothReadyUnsafe() {
		m.Status = StatusInGame
		log.Printf("GameRegistry: game %s entered combat", m.ID)
	}
	m.logEvent(userID, "player_ready", len(ships))
	return m.snapshotUnsafe(), nil
}

// SetPlayerSelectedCells records a shot. The cell is appended to the
// shooter's selection; a hit (isReplay) keeps the turn, a miss passes it to
// the opponent. Turn ownership is not enforced server-side, matching the
// trusted-client shot protocol.
func (reg *Registry) SetPlayerSelectedCells(gameID, userID uuid.UUID, cell models.Cell, isReplay bool) (*Snapshot, error) {
	reg.mu.Lock()
	m, ok := reg.games[gameID]
	reg.mu.Unlock()
	if !ok {
		return nil, ErrGameNotFound
	}

	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Status != StatusInGame {
		return nil, ErrInvalidState
	}
	p := m.playerUnsafe(userID)
	if p == nil {
		return nil, ErrPlayerNotFound
	}
	opp := m.opponentUnsafe(userID)
	if opp == nil {
		return nil, ErrOpponentNotFound
	}
	p.SelectedCells = append(p.SelectedCells, cell)
	if !isReplay {
		m.CurrentTurn = opp.UserID
	}
	m.logEvent(userID, "shot", map[string]interface{}{"cell": cell, "replay": isReplay})
	return m.snapshotUnsafe(), nil
}

// AddMessage appends a chat message to the match's bounded buffer.
func (reg *Registry) AddMessage(gameID, userID uuid.UUID, text string) (*Snapshot, error) {
	reg.mu.Lock()
	m, ok := reg.games[gameID]
	reg.mu.Unlock()
	if !ok {
		return nil, ErrGameNotFound
	}

	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Status == StatusEnded {
		return nil, ErrInvalidState
	}
	p := m.playerUnsafe(userID)
	if p == nil {
		return nil, ErrPlayerNotFound
	}
	m.addMessageUnsafe(models.ChatMessage{
		UserID:      userID,
		DisplayName: p.DisplayName,
		Text:        text,
		Timestamp:   time.Now(),
	})
	return m.snapshotUnsafe(), nil
}

// EndGame concludes an active match with winnerID the victor. Ratings,
// history, and outcomes are persisted first; the match only flips to ended
// once persistence succeeds, so a store failure leaves it resumable.
func (reg *Registry) EndGame(ctx context.Context, gameID, winnerID uuid.UUID) (*Snapshot, error) {
	reg.mu.Lock()
	m, ok := reg.games[gameID]
	reg.mu.Unlock()
	if !ok {
		return nil, ErrGameNotFound
	}

	m.Mu.Lock()
	defer m.Mu.Unlock()
	return reg.endUnsafe(ctx, m, winnerID, nil)
}

// endUnsafe settles a match. Assumes m.Mu is held.
func (reg *Registry) endUnsafe(ctx context.Context, m *Match, winnerID uuid.UUID, leavingID *uuid.UUID) (*Snapshot, error) {
	if m.Status != StatusInGame {
		return nil, ErrInvalidState
	}
	if m.playerUnsafe(winnerID) == nil {
		return nil, ErrPlayerNotFound
	}

	if err := reg.persistOutcome(ctx, m, winnerID); err != nil {
		return nil, fmt.Errorf("settle game %s: %w", m.ID, err)
	}

	m.Status = StatusEnded
	w := winnerID
	m.WinnerID = &w
	m.LeavingUserID = leavingID
	log.Printf("GameRegistry: game %s ended, winner %s", m.ID, winnerID)
	m.logEvent(winnerID, "game_ended", map[string]interface{}{"winner": winnerID, "forfeit": leavingID != nil})
	return m.snapshotUnsafe(), nil
}

// persistOutcome applies the rating math to both seats and writes records,
// history rows, and verdicts. Assumes m.Mu is held.
func (reg *Registry) persistOutcome(ctx context.Context, m *Match, winnerID uuid.UUID) error {
	for _, p := range m.Players {
		isWinner := p.UserID == winnerID

		rec, err := reg.ratings.GetOrCreate(ctx, p.UserID)
		if err != nil {
			return fmt.Errorf("load rating for %s: %w", p.UserID, err)
		}
		before, after := rating.Apply(rec, isWinner)
		if err := reg.ratings.ApplyResult(ctx, rec); err != nil {
			return fmt.Errorf("apply rating for %s: %w", p.UserID, err)
		}
		if err := reg.ratings.RecordHistory(ctx, models.RatingHistoryEntry{
			UserID:    p.UserID,
			GameID:    m.ID,
			EloBefore: before,
			EloAfter:  after,
		}); err != nil {
			return fmt.Errorf("record history for %s: %w", p.UserID, err)
		}
		if err := reg.results.MarkOutcome(ctx, models.MatchOutcome{
			GameID:    m.ID,
			UserID:    p.UserID,
			IsWinner:  isWinner,
			EloChange: after - before,
		}); err != nil {
			return fmt.Errorf("mark outcome for %s: %w", p.UserID, err)
		}
	}
	return nil
}

// LeaveGame is a voluntary exit from whatever non-ended match the user
// occupies. During placement the match is discarded with no rating effects;
// during combat the leave is a forfeit and the opponent wins. With no active
// match it is a no-op returning nil.
func (reg *Registry) LeaveGame(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	reg.mu.Lock()
	m := reg.findActiveLocked(userID)
	reg.mu.Unlock()
	if m == nil {
		return nil, nil
	}
	return reg.settleLeave(ctx, m, userID)
}

// settleLeave resolves one player's exit from a match. The registry mutex is
// NOT held here: settlement does store I/O, and only the leaving match may
// stall on it. A match that changed state since lookup falls through to the
// no-op branch.
func (reg *Registry) settleLeave(ctx context.Context, m *Match, userID uuid.UUID) (*Snapshot, error) {
	m.Mu.Lock()
	switch m.Status {
	case StatusOrganizing:
		// Nothing at stake during placement; drop the match entirely.
		m.Status = StatusEnded
		leaving := userID
		m.LeavingUserID = &leaving
		snap := m.snapshotUnsafe()
		m.Mu.Unlock()

		reg.mu.Lock()
		reg.dropLocked(m.ID)
		reg.mu.Unlock()
		log.Printf("GameRegistry: game %s discarded during placement by %s", m.ID, userID)
		m.logEvent(userID, "game_discarded", nil)
		return snap, nil
	case StatusInGame:
		defer m.Mu.Unlock()
		opp := m.opponentUnsafe(userID)
		if opp == nil {
			return nil, ErrOpponentNotFound
		}
		leaving := userID
		return reg.endUnsafe(ctx, m, opp.UserID, &leaving)
	default:
		m.Mu.Unlock()
		return nil, nil
	}
}

// dropLocked removes a match from the registry indexes. Assumes the registry
// lock is held.
func (reg *Registry) dropLocked(gameID uuid.UUID) {
	m, ok := reg.games[gameID]
	if !ok {
		return
	}
	delete(reg.games, gameID)
	for _, p := range m.Players {
		if set, ok := reg.byUser[p.UserID]; ok {
			delete(set, gameID)
			if len(set) == 0 {
				delete(reg.byUser, p.UserID)
			}
		}
	}
}

// HandleDisconnect starts the grace clock for a user with an active match.
// A reconnect within the grace period cancels it; otherwise the match is
// forfeited exactly as if the user had left. Repeated disconnects reset the
// clock rather than stacking timers.
func (reg *Registry) HandleDisconnect(userID uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.findActiveLocked(userID) == nil {
		return
	}
	if t, ok := reg.graceTimers[userID]; ok {
		t.Stop()
	}
	reg.graceTimers[userID] = time.AfterFunc(reg.GracePeriod, func() {
		reg.graceExpired(userID)
	})
	log.Printf("GameRegistry: grace clock started for %s", userID)
}

// HandleReconnect cancels the user's pending grace clock, if any.
func (reg *Registry) HandleReconnect(userID uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if t, ok := reg.graceTimers[userID]; ok {
		t.Stop()
		delete(reg.graceTimers, userID)
	}
}

// graceExpired runs when a disconnect outlasts the grace period. It
// re-validates under the registry lock: a cancelled or replaced timer, or a
// match that ended meanwhile, makes this a no-op. Settlement happens with
// only the match lock held so a slow store stalls nothing else. The forfeit
// snapshot goes out through OnGameData since no client action drove it.
func (reg *Registry) graceExpired(userID uuid.UUID) {
	reg.mu.Lock()
	if _, ok := reg.graceTimers[userID]; !ok {
		reg.mu.Unlock()
		return
	}
	delete(reg.graceTimers, userID)
	m := reg.findActiveLocked(userID)
	reg.mu.Unlock()
	if m == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	snap, err := reg.settleLeave(ctx, m, userID)
	cancel()

	if err != nil {
		log.Printf("GameRegistry: grace forfeit for %s failed: %v", userID, err)
		return
	}
	if snap != nil {
		log.Printf("GameRegistry: %s forfeited by grace expiry in game %s", userID, snap.ID)
		if reg.OnGameData != nil {
			reg.OnGameData(snap)
		}
	}
}

// Shutdown stops every pending grace timer and clears the registry.
// Intended for process teardown and test cleanup.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for id, t := range reg.graceTimers {
		t.Stop()
		delete(reg.graceTimers, id)
	}
	reg.games = make(map[uuid.UUID]*Match)
	reg.byUser = make(map[uuid.UUID]map[uuid.UUID]struct{})
}
