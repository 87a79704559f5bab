// internal/rating/rating_test.go
package rating

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDeltaFor(t *testing.T) {
	assert.Equal(t, 20, DeltaFor(true))
	assert.Equal(t, -15, DeltaFor(false))
}

func TestEffectiveDeltaFloorsAtZero(t *testing.T) {
	assert.Equal(t, -15, EffectiveDelta(1000, false))
	assert.Equal(t, -15, EffectiveDelta(15, false))
	assert.Equal(t, -10, EffectiveDelta(10, false))
	assert.Equal(t, 0, EffectiveDelta(0, false))
	assert.Equal(t, 20, EffectiveDelta(0, true), "wins are never clamped")
}

func TestApplyWin(t *testing.T) {
	rec := NewRecord(uuid.New())
	before, after := Apply(rec, true)

	assert.Equal(t, 1000, before)
	assert.Equal(t, 1020, after)
	assert.Equal(t, 1020, rec.Elo)
	assert.Equal(t, 1, rec.GamesPlayed)
	assert.Equal(t, 1, rec.Wins)
	assert.Equal(t, 0, rec.Losses)
	assert.Equal(t, 1, rec.Streak)
	assert.Equal(t, 1, rec.HighestStreak)
}

func TestApplyLossResetsStreak(t *testing.T) {
	rec := NewRecord(uuid.New())
	Apply(rec, true)
	Apply(rec, true)
	Apply(rec, true)
	assert.Equal(t, 3, rec.Streak)

	before, after := Apply(rec, false)
	assert.Equal(t, 1060, before)
	assert.Equal(t, 1045, after)
	assert.Equal(t, 0, rec.Streak, "a loss resets the run to zero")
	assert.Equal(t, 3, rec.HighestStreak, "the best run survives the reset")
	assert.Equal(t, 4, rec.GamesPlayed)
	assert.Equal(t, 1, rec.Losses)
}

func TestApplyLossNearFloor(t *testing.T) {
	rec := NewRecord(uuid.New())
	rec.Elo = 7

	before, after := Apply(rec, false)
	assert.Equal(t, 7, before)
	assert.Equal(t, 0, after)
	assert.Equal(t, 0, rec.Elo)

	// A second loss at the floor changes nothing but the counters.
	_, after = Apply(rec, false)
	assert.Equal(t, 0, after)
	assert.Equal(t, 2, rec.Losses)
}
