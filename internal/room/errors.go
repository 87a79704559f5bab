package room

import "errors"

var (
	// ErrRoomNotFound indicates no active room matches the given id or code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrPlayerNotFound indicates the user does not occupy a seat in the room.
	ErrPlayerNotFound = errors.New("player not found in room")
	// ErrRoomFull indicates the room already seats the maximum of two players.
	ErrRoomFull = errors.New("room is full")
	// ErrAlreadyInRoom indicates a duplicate join attempt by a seated player.
	ErrAlreadyInRoom = errors.New("player already in room")
	// ErrRoomNotJoinable indicates the room left the lobby state.
	ErrRoomNotJoinable = errors.New("room is not joinable")
)
