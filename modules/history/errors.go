package history

import "errors"

// Sentinel errors for history operations.
var (
	// ErrRoomNotFound is returned when no metadata record exists for a room.
	ErrRoomNotFound = errors.New("room not found")

	// ErrEmptyRoomID is returned when an operation is called without a room id.
	ErrEmptyRoomID = errors.New("room id is required")
)
