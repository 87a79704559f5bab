package game

import "errors"

var (
	// ErrGameNotFound indicates no match exists for the given id.
	ErrGameNotFound = errors.New("game not found")
	// ErrPlayerNotFound indicates the user is not seated in the match.
	ErrPlayerNotFound = errors.New("player not found in game")
	// ErrOpponentNotFound indicates the match has no second seat to act
	// against, which means corrupted state for a two-player match.
	ErrOpponentNotFound = errors.New("opponent not found in game")
	// ErrInvalidState indicates the operation is not legal in the match's
	// current lifecycle phase.
	ErrInvalidState = errors.New("invalid game state for operation")
)
