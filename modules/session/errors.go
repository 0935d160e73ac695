package session

import "errors"

var (
	// ErrNotMember is returned when a message is sent for a room the connection is not bound to.
	ErrNotMember = errors.New("connection is not bound to this room")

	// ErrConnectionClosed is returned for events arriving after the connection closed.
	ErrConnectionClosed = errors.New("connection closed")
)
