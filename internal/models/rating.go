package models

import "github.com/google/uuid"

// RatingRecord tracks a user's ladder standing. Streak is the current run of
// consecutive wins; it resets to zero on a loss and is never negative.
// Highest-ever elo is not stored here; it is derived from RatingHistory.
type RatingRecord struct {
	UserID        uuid.UUID `json:"userId"`
	Elo           int       `json:"elo"`
	Streak        int       `json:"streak"`
	HighestStreak int       `json:"highestStreak"`
	GamesPlayed   int       `json:"gamesPlayed"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
}

// RatingHistoryEntry is one append-only row per player per concluded match.
type RatingHistoryEntry struct {
	UserID    uuid.UUID `json:"userId"`
	GameID    uuid.UUID `json:"gameId"`
	EloBefore int       `json:"eloBefore"`
	EloAfter  int       `json:"eloAfter"`
}

// LeaderboardEntry is one paginated leaderboard row, ordered by elo desc.
// Index is the 1-based global rank of the row within the full ordering.
type LeaderboardEntry struct {
	UserID        uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Elo           int       `json:"elo"`
	Index         int       `json:"index"`
	GamesPlayed   int       `json:"gamesPlayed"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Streak        int       `json:"streak"`
	HighestStreak int       `json:"highestStreak"`
}

// PageMeta accompanies every paginated listing.
type PageMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}
