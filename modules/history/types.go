package history

import "time"

// CreateRoomRequest is the request for allocating a new room.
type CreateRoomRequest struct{}

// CreateRoomResponse is returned after a room id is allocated.
type CreateRoomResponse struct {
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
}

// GetRoomRequest is the request for looking up a room record.
type GetRoomRequest struct {
	RoomID string `json:"roomId"`
}

// GetRoomResponse describes a room record. Exists is false when no record was found.
type GetRoomResponse struct {
	RoomID    string    `json:"roomId"`
	Exists    bool      `json:"exists"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}
