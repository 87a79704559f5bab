package models

import "github.com/google/uuid"

// Identity is the minimal view of a user the room and game registries need:
// a display name for snapshots and the current elo for matchmaking. Full
// accounts (passwords, email verification) live in the external identity
// service; this service only reads profile fields.
type Identity struct {
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName"`
	Elo         int       `json:"elo"`
}
