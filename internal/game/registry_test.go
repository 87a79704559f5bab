// internal/game/registry_test.go
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-gg/flotilla/internal/models"
	"github.com/flotilla-gg/flotilla/internal/rating"
)

type fakeRatings struct {
	mu      sync.Mutex
	recs    map[uuid.UUID]*models.RatingRecord
	history []models.RatingHistoryEntry
}

func newFakeRatings() *fakeRatings {
	return &fakeRatings{recs: make(map[uuid.UUID]*models.RatingRecord)}
}

func (f *fakeRatings) GetOrCreate(_ context.Context, userID uuid.UUID) (*models.RatingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recs[userID]; ok {
		cp := *rec
		return &cp, nil
	}
	return rating.NewRecord(userID), nil
}

func (f *fakeRatings) ApplyResult(_ context.Context, rec *models.RatingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.recs[rec.UserID] = &cp
	return nil
}

func (f *fakeRatings) RecordHistory(_ context.Context, entry models.RatingHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeRatings) elo(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recs[userID]; ok {
		return rec.Elo
	}
	return -1
}

type fakeResults struct {
	mu       sync.Mutex
	created  []uuid.UUID
	outcomes []models.MatchOutcome
	failMark bool
}

func (f *fakeResults) CreateMatch(_ context.Context, gameID uuid.UUID, _ []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, gameID)
	return nil
}

func (f *fakeResults) MarkOutcome(_ context.Context, outcome models.MatchOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMark {
		return errors.New("store unavailable")
	}
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func (f *fakeResults) outcomeFor(userID uuid.UUID) (models.MatchOutcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.outcomes {
		if o.UserID == userID {
			return o, true
		}
	}
	return models.MatchOutcome{}, false
}

func testSeats() []Seat {
	return []Seat{
		{UserID: uuid.New(), DisplayName: "alice"},
		{UserID: uuid.New(), DisplayName: "bob"},
	}
}

func testShips() []models.Ship {
	return []models.Ship{{ID: 1, Width: 2, Height: 1, Coordinates: []models.Cell{{Left: 0, Top: 0}, {Left: 1, Top: 0}}}}
}

// startedGame returns a registry with one match already in the combat phase.
func startedGame(t *testing.T, ratings *fakeRatings, results *fakeResults) (*Registry, *Snapshot, []Seat) {
	t.Helper()
	reg := NewRegistry(ratings, results)
	t.Cleanup(reg.Shutdown)

	seats := testSeats()
	snap, err := reg.CreateGame(context.Background(), uuid.New(), seats)
	require.NoError(t, err)
	_, err = reg.SetPlayerReady(snap.ID, seats[0].UserID, testShips())
	require.NoError(t, err)
	snap, err = reg.SetPlayerReady(snap.ID, seats[1].UserID, testShips())
	require.NoError(t, err)
	require.Equal(t, StatusInGame, snap.Status)
	return reg, snap, seats
}

func TestCreateGameStartsOrganizing(t *testing.T) {
	results := &fakeResults{}
	reg := NewRegistry(newFakeRatings(), results)
	defer reg.Shutdown()

	seats := testSeats()
	snap, err := reg.CreateGame(context.Background(), uuid.New(), seats)
	require.NoError(t, err)
	assert.Equal(t, StatusOrganizing, snap.Status)
	assert.Equal(t, seats[0].UserID, snap.CurrentTurn, "first seat opens")
	assert.Len(t, snap.Players, 2)
	assert.Equal(t, []uuid.UUID{snap.ID}, results.created)

	_, err = reg.CreateGame(context.Background(), uuid.New(), seats[:1])
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestBothReadyEntersCombat(t *testing.T) {
	reg := NewRegistry(newFakeRatings(), &fakeResults{})
	defer reg.Shutdown()

	seats := testSeats()
	snap, err := reg.CreateGame(context.Background(), uuid.New(), seats)
	require.NoError(t, err)

	snap, err = reg.SetPlayerReady(snap.ID, seats[0].UserID, testShips())
	require.NoError(t, err)
	assert.Equal(t, StatusOrganizing, snap.Status, "one ready player is not enough")
	assert.True(t, snap.Players[0].IsReady)
	assert.Len(t, snap.Players[0].Ships, 1)

	snap, err = reg.SetPlayerReady(snap.ID, seats[1].UserID, testShips())
	require.NoError(t, err)
	assert.Equal(t, StatusInGame, snap.Status)

	// Placement actions are illegal once combat starts.
	_, err = reg.SetPlayerReady(snap.ID, seats[0].UserID, testShips())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSetPlayerReadyTogglesOff(t *testing.T) {
	reg := NewRegistry(newFakeRatings(), &fakeResults{})
	defer reg.Shutdown()

	seats := testSeats()
	snap, err := reg.CreateGame(context.Background(), uuid.New(), seats)
	require.NoError(t, err)

	snap, err = reg.SetPlayerReady(snap.ID, seats[0].UserID, testShips())
	require.NoError(t, err)
	require.True(t, snap.Players[0].IsReady)

	// A second call un-readies so the player can rearrange their fleet.
	snap, err = reg.SetPlayerReady(snap.ID, seats[0].UserID, nil)
	require.NoError(t, err)
	assert.False(t, snap.Players[0].IsReady)
	assert.Equal(t, StatusOrganizing, snap.Status)

	// The opponent readying now must not start combat.
	snap, err = reg.SetPlayerReady(snap.ID, seats[1].UserID, testShips())
	require.NoError(t, err)
	assert.Equal(t, StatusOrganizing, snap.Status, "one un-readied seat holds the match in placement")

	snap, err = reg.SetPlayerReady(snap.ID, seats[0].UserID, testShips())
	require.NoError(t, err)
	assert.Equal(t, StatusInGame, snap.Status)
}

func TestShotsAlternateAndReplay(t *testing.T) {
	reg, snap, seats := startedGame(t, newFakeRatings(), &fakeResults{})

	// A miss passes the turn.
	snap, err := reg.SetPlayerSelectedCells(snap.ID, seats[0].UserID, models.Cell{Left: 3, Top: 4}, false)
	require.NoError(t, err)
	assert.Equal(t, seats[1].UserID, snap.CurrentTurn)

	// A hit keeps it.
	snap, err = reg.SetPlayerSelectedCells(snap.ID, seats[1].UserID, models.Cell{Left: 0, Top: 0}, true)
	require.NoError(t, err)
	assert.Equal(t, seats[1].UserID, snap.CurrentTurn)

	snap, err = reg.SetPlayerSelectedCells(snap.ID, seats[1].UserID, models.Cell{Left: 5, Top: 5}, false)
	require.NoError(t, err)
	assert.Equal(t, seats[0].UserID, snap.CurrentTurn)

	// Selections only accumulate.
	assert.Len(t, snap.Players[0].SelectedCells, 1)
	assert.Len(t, snap.Players[1].SelectedCells, 2)

	_, err = reg.SetPlayerSelectedCells(snap.ID, uuid.New(), models.Cell{}, false)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestEndGameAppliesRatings(t *testing.T) {
	ratings := newFakeRatings()
	results := &fakeResults{}
	reg, snap, seats := startedGame(t, ratings, results)

	ended, err := reg.EndGame(context.Background(), snap.ID, seats[0].UserID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)
	require.NotNil(t, ended.WinnerID)
	assert.Equal(t, seats[0].UserID, *ended.WinnerID)
	assert.Nil(t, ended.LeavingUserID)

	assert.Equal(t, 1020, ratings.elo(seats[0].UserID))
	assert.Equal(t, 985, ratings.elo(seats[1].UserID))
	assert.Len(t, ratings.history, 2)

	win, ok := results.outcomeFor(seats[0].UserID)
	require.True(t, ok)
	assert.True(t, win.IsWinner)
	assert.Equal(t, 20, win.EloChange)
	loss, ok := results.outcomeFor(seats[1].UserID)
	require.True(t, ok)
	assert.False(t, loss.IsWinner)
	assert.Equal(t, -15, loss.EloChange)

	// Ended matches stay queryable but reject further actions.
	got, err := reg.GetGame(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)
	_, err = reg.SetPlayerSelectedCells(snap.ID, seats[0].UserID, models.Cell{}, false)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = reg.EndGame(context.Background(), snap.ID, seats[0].UserID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEndGameFloorsLoserAtZero(t *testing.T) {
	ratings := newFakeRatings()
	results := &fakeResults{}
	reg, snap, seats := startedGame(t, ratings, results)

	ratings.mu.Lock()
	ratings.recs[seats[1].UserID] = &models.RatingRecord{UserID: seats[1].UserID, Elo: 10}
	ratings.mu.Unlock()

	_, err := reg.EndGame(context.Background(), snap.ID, seats[0].UserID)
	require.NoError(t, err)

	assert.Equal(t, 0, ratings.elo(seats[1].UserID))
	loss, ok := results.outcomeFor(seats[1].UserID)
	require.True(t, ok)
	assert.Equal(t, -10, loss.EloChange, "clamped delta is recorded, not the nominal -15")
}

func TestEndGamePersistFailureLeavesMatchLive(t *testing.T) {
	results := &fakeResults{failMark: true}
	reg, snap, seats := startedGame(t, newFakeRatings(), results)

	_, err := reg.EndGame(context.Background(), snap.ID, seats[0].UserID)
	require.Error(t, err)

	got, err := reg.GetGame(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInGame, got.Status, "settlement failure must not strand the match ended")
	assert.Nil(t, got.WinnerID)
}

func TestLeaveGameForfeitsDuringCombat(t *testing.T) {
	ratings := newFakeRatings()
	results := &fakeResults{}
	reg, snap, seats := startedGame(t, ratings, results)

	ended, err := reg.LeaveGame(context.Background(), seats[0].UserID)
	require.NoError(t, err)
	require.NotNil(t, ended)
	assert.Equal(t, snap.ID, ended.ID)
	assert.Equal(t, StatusEnded, ended.Status)
	require.NotNil(t, ended.WinnerID)
	assert.Equal(t, seats[1].UserID, *ended.WinnerID)
	require.NotNil(t, ended.LeavingUserID)
	assert.Equal(t, seats[0].UserID, *ended.LeavingUserID)

	// A forfeit settles exactly like a played-out loss.
	assert.Equal(t, 985, ratings.elo(seats[0].UserID))
	assert.Equal(t, 1020, ratings.elo(seats[1].UserID))
}

func TestLeaveGameDiscardsDuringPlacement(t *testing.T) {
	ratings := newFakeRatings()
	results := &fakeResults{}
	reg := NewRegistry(ratings, results)
	defer reg.Shutdown()

	seats := testSeats()
	snap, err := reg.CreateGame(context.Background(), uuid.New(), seats)
	require.NoError(t, err)

	ended, err := reg.LeaveGame(context.Background(), seats[1].UserID)
	require.NoError(t, err)
	require.NotNil(t, ended)
	assert.Equal(t, StatusEnded, ended.Status)
	assert.Nil(t, ended.WinnerID)

	// No ladder movement for an abandoned placement.
	assert.Empty(t, ratings.recs)
	assert.Empty(t, results.outcomes)
	_, err = reg.GetGame(snap.ID)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

// gatedResults blocks MarkOutcome until the gate opens, standing in for a
// slow or stalled store.
type gatedResults struct {
	fakeResults
	gate chan struct{}
}

func (g *gatedResults) MarkOutcome(ctx context.Context, outcome models.MatchOutcome) error {
	<-g.gate
	return g.fakeResults.MarkOutcome(ctx, outcome)
}

func TestSlowForfeitDoesNotBlockOtherMatches(t *testing.T) {
	results := &gatedResults{gate: make(chan struct{})}
	reg := NewRegistry(newFakeRatings(), results)
	defer reg.Shutdown()

	start := func(seats []Seat) *Snapshot {
		snap, err := reg.CreateGame(context.Background(), uuid.New(), seats)
		require.NoError(t, err)
		_, err = reg.SetPlayerReady(snap.ID, seats[0].UserID, testShips())
		require.NoError(t, err)
		snap, err = reg.SetPlayerReady(snap.ID, seats[1].UserID, testShips())
		require.NoError(t, err)
		require.Equal(t, StatusInGame, snap.Status)
		return snap
	}
	seatsA, seatsB := testSeats(), testSeats()
	a := start(seatsA)
	b := start(seatsB)

	leaveDone := make(chan struct{})
	go func() {
		defer close(leaveDone)
		_, _ = reg.LeaveGame(context.Background(), seatsA[0].UserID)
	}()

	// While A's settlement is stuck in the store, B must keep playing.
	otherDone := make(chan error, 1)
	go func() {
		_, err := reg.AddMessage(b.ID, seatsB[0].UserID, "ping")
		otherDone <- err
	}()
	select {
	case err := <-otherDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("operation on an unrelated match blocked behind a slow settlement")
	}

	close(results.gate)
	<-leaveDone
	got, err := reg.GetGame(a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)
}

func TestLeaveGameWithoutMatchIsNoop(t *testing.T) {
	reg := NewRegistry(newFakeRatings(), &fakeResults{})
	defer reg.Shutdown()

	snap, err := reg.LeaveGame(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestChatBufferEvictsOldest(t *testing.T) {
	reg, snap, seats := startedGame(t, newFakeRatings(), &fakeResults{})

	var latest *Snapshot
	for i := 0; i < MaxMessages+5; i++ {
		var err error
		latest, err = reg.AddMessage(snap.ID, seats[i%2].UserID, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}
	require.Len(t, latest.Messages, MaxMessages)
	assert.Equal(t, "msg 5", latest.Messages[0].Text)
	assert.Equal(t, fmt.Sprintf("msg %d", MaxMessages+4), latest.Messages[MaxMessages-1].Text)
}

func TestGetInProgressGame(t *testing.T) {
	reg, snap, seats := startedGame(t, newFakeRatings(), &fakeResults{})

	got, err := reg.GetInProgressGame(seats[0].UserID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)

	_, err = reg.GetInProgressGame(uuid.New())
	assert.ErrorIs(t, err, ErrGameNotFound)

	_, err = reg.EndGame(context.Background(), snap.ID, seats[0].UserID)
	require.NoError(t, err)
	_, err = reg.GetInProgressGame(seats[0].UserID)
	assert.ErrorIs(t, err, ErrGameNotFound, "ended matches are not in progress")
}

func TestGetInProgressGameIgnoresOrganizing(t *testing.T) {
	reg := NewRegistry(newFakeRatings(), &fakeResults{})
	defer reg.Shutdown()

	seats := testSeats()
	snap, err := reg.CreateGame(context.Background(), uuid.New(), seats)
	require.NoError(t, err)

	// Fleet placement is not a resumable combat state.
	_, err = reg.GetInProgressGame(seats[0].UserID)
	assert.ErrorIs(t, err, ErrGameNotFound)

	_, err = reg.SetPlayerReady(snap.ID, seats[0].UserID, testShips())
	require.NoError(t, err)
	_, err = reg.SetPlayerReady(snap.ID, seats[1].UserID, testShips())
	require.NoError(t, err)

	got, err := reg.GetInProgressGame(seats[0].UserID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
}

func TestGraceExpiryForfeits(t *testing.T) {
	ratings := newFakeRatings()
	reg, snap, seats := startedGame(t, ratings, &fakeResults{})
	reg.GracePeriod = 20 * time.Millisecond

	var mu sync.Mutex
	var broadcast *Snapshot
	reg.OnGameData = func(s *Snapshot) {
		mu.Lock()
		broadcast = s
		mu.Unlock()
	}

	reg.HandleDisconnect(seats[0].UserID)

	require.Eventually(t, func() bool {
		got, err := reg.GetGame(snap.ID)
		return err == nil && got.Status == StatusEnded
	}, time.Second, 5*time.Millisecond)

	got, err := reg.GetGame(snap.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, seats[1].UserID, *got.WinnerID)
	assert.Equal(t, 985, ratings.elo(seats[0].UserID))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, broadcast, "grace forfeit must be broadcast")
	assert.Equal(t, StatusEnded, broadcast.Status)
}

func TestReconnectCancelsGrace(t *testing.T) {
	reg, snap, seats := startedGame(t, newFakeRatings(), &fakeResults{})
	reg.GracePeriod = 20 * time.Millisecond

	reg.HandleDisconnect(seats[0].UserID)
	reg.HandleReconnect(seats[0].UserID)

	time.Sleep(80 * time.Millisecond)

	got, err := reg.GetGame(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInGame, got.Status, "reconnect within grace keeps the match live")
}

func TestDisconnectWithoutMatchStartsNoTimer(t *testing.T) {
	reg := NewRegistry(newFakeRatings(), &fakeResults{})
	defer reg.Shutdown()

	stranger := uuid.New()
	reg.HandleDisconnect(stranger)

	reg.mu.Lock()
	_, armed := reg.graceTimers[stranger]
	reg.mu.Unlock()
	assert.False(t, armed)
}
