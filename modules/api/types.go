package api

import (
	"encoding/json"
	"time"
)

// Inbound websocket frame types.
const (
	WSTypeJoin    = "join"
	WSTypeMessage = "message"
	WSTypeLeave   = "leave"
)

// WebSocketMessage is an inbound websocket frame.
type WebSocketMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload is the payload for joining a room.
type JoinPayload struct {
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
}

// MessagePayload is the payload for sending a message.
type MessagePayload struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

// CreateRoomResponse is the API response after a room id is allocated.
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

// RoomResponse is the API response for a room.
type RoomResponse struct {
	RoomID    string     `json:"roomId"`
	Exists    bool       `json:"exists"`
	Members   int        `json:"members"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
