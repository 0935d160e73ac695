package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// MessageSentEvent is emitted after a message was stored and broadcast.
type MessageSentEvent struct {
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// UserJoinedEvent is emitted when a connection joins a room.
type UserJoinedEvent struct {
	RoomID    string    `json:"room_id"`
	ConnID    string    `json:"conn_id"`
	Username  string    `json:"username"`
	Members   int       `json:"members"`
	Timestamp time.Time `json:"timestamp"`
}

// Leave reasons carried by UserLeftEvent.
const (
	LeaveReasonExplicit = "explicit"
	LeaveReasonAbrupt   = "abrupt"
	LeaveReasonRebind   = "rebind"
)

// UserLeftEvent is emitted when a connection leaves a room.
type UserLeftEvent struct {
	RoomID    string    `json:"room_id"`
	ConnID    string    `json:"conn_id"`
	Username  string    `json:"username"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomDestroyedEvent is emitted when a room's history was deleted.
type RoomDestroyedEvent struct {
	RoomID    string    `json:"room_id"`
	Reaped    bool      `json:"reaped"`
	Failed    bool      `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomCreatedEvent is emitted when a room id is allocated.
type RoomCreatedEvent struct {
	RoomID    string    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the chat domain.
var (
	MessageSentV1 = helper.EventDefinition[MessageSentEvent](
		"chat",
		"MessageSent",
		"v1",
	)

	UserJoinedV1 = helper.EventDefinition[UserJoinedEvent](
		"chat",
		"UserJoined",
		"v1",
	)

	UserLeftV1 = helper.EventDefinition[UserLeftEvent](
		"chat",
		"UserLeft",
		"v1",
	)

	RoomDestroyedV1 = helper.EventDefinition[RoomDestroyedEvent](
		"chat",
		"RoomDestroyed",
		"v1",
	)

	RoomCreatedV1 = helper.EventDefinition[RoomCreatedEvent](
		"chat",
		"RoomCreated",
		"v1",
	)
)
