package chat

import "time"

// DefaultDisplayName is used when a participant joins without a name.
const DefaultDisplayName = "Anonymous"

// Message represents a persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Notice is a system notice synthesized on join and leave. It is never persisted.
type Notice struct {
	Text string `json:"text"`
	TS   int64  `json:"ts"` // unix milliseconds
}

// NewNotice stamps a notice with the given time.
func NewNotice(text string, at time.Time) Notice {
	return Notice{Text: text, TS: at.UnixMilli()}
}

// Room is the metadata record created by the room-creation endpoint.
type Room struct {
	ID        string    `json:"room_id"`
	CreatedAt time.Time `json:"created_at"`
}
