package models

import (
	"time"

	"github.com/google/uuid"
)

// Cell addresses one board square by its client-side grid offsets.
type Cell struct {
	Left int `json:"left"`
	Top  int `json:"top"`
}

// Ship is one placed fleet piece. The shape mirrors what the client submits
// with its placement: footprint, sprite, and the occupied coordinates.
type Ship struct {
	ID          int    `json:"id"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Img         string `json:"img"`
	IsKilled    bool   `json:"isKilled"`
	Coordinates []Cell `json:"coordinates"`
}

// ChatMessage is one entry in a match's bounded chat buffer.
type ChatMessage struct {
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// MatchOutcome is the per-player verdict persisted when a match concludes.
// EloChange is the delta actually applied, so the loser's change is clamped
// when the floor at zero elo kicks in.
type MatchOutcome struct {
	GameID    uuid.UUID `json:"gameId"`
	UserID    uuid.UUID `json:"userId"`
	IsWinner  bool      `json:"isWinner"`
	EloChange int       `json:"eloChange"`
}

// MatchSummary is one row of a user's match history listing.
type MatchSummary struct {
	GameID    uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"`
	IsWinner  bool      `json:"isWinner"`
	EloChange int       `json:"eloChange"`
}
