// Package rating implements the ladder math applied when a match concludes.
//
// The scheme is deliberately a flat-delta one rather than an expected-score
// formula: the winner always gains WinDelta, the loser always loses up to
// LossDelta, and a loser's elo is floored at zero. This keeps rating updates
// deterministic and order-independent for the two players of a match.
package rating

import (
	"github.com/google/uuid"

	"github.com/flotilla-gg/flotilla/internal/models"
)

const (
	// WinDelta is added to the winner's elo.
	WinDelta = 20
	// LossDelta is added to the loser's elo (negative).
	LossDelta = -15
	// BaseElo seeds a fresh rating record.
	BaseElo = 1000
)

// DeltaFor returns the nominal elo delta for a match result.
func DeltaFor(isWinner bool) int {
	if isWinner {
		return WinDelta
	}
	return LossDelta
}

// EffectiveDelta returns the delta actually applied given the player's elo
// before the match. A loser near the floor loses only what they have.
func EffectiveDelta(eloBefore int, isWinner bool) int {
	d := DeltaFor(isWinner)
	if eloBefore+d < 0 {
		return -eloBefore
	}
	return d
}

// Apply folds one decided match into rec and returns the elo before and
// after. Streak is a consecutive-win counter: it resets to zero on a loss.
func Apply(rec *models.RatingRecord, isWinner bool) (eloBefore, eloAfter int) {
	eloBefore = rec.Elo
	eloAfter = eloBefore + EffectiveDelta(eloBefore, isWinner)

	rec.Elo = eloAfter
	rec.GamesPlayed++
	if isWinner {
		rec.Wins++
		rec.Streak++
		if rec.Streak > rec.HighestStreak {
			rec.HighestStreak = rec.Streak
		}
	} else {
		rec.Losses++
		rec.Streak = 0
	}
	return eloBefore, eloAfter
}

// NewRecord returns a fresh rating record for a user who has never played.
func NewRecord(userID uuid.UUID) *models.RatingRecord {
	return &models.RatingRecord{UserID: userID, Elo: BaseElo}
}
