package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/ephemeral-chat/modules/history"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// Service names exposed by the history module.
const (
	ServiceCreateRoom = "create-room"
	ServiceGetRoom    = "get-room"
)

// RoomPort defines the room metadata operations the API needs.
type RoomPort interface {
	CreateRoom(ctx context.Context) (*history.CreateRoomResponse, error)
	GetRoom(ctx context.Context, roomID string) (*history.GetRoomResponse, error)
}

// RoomAdapter implements RoomPort using the history module's service container.
type RoomAdapter struct {
	container mono.ServiceContainer
}

// NewRoomAdapter creates a new RoomAdapter.
func NewRoomAdapter(container mono.ServiceContainer) RoomPort {
	if container == nil {
		panic("api: history ServiceContainer is nil")
	}
	return &RoomAdapter{container: container}
}

// CreateRoom allocates a new room id.
func (a *RoomAdapter) CreateRoom(ctx context.Context) (*history.CreateRoomResponse, error) {
	req := history.CreateRoomRequest{}
	var resp history.CreateRoomResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceCreateRoom,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return &resp, nil
}

// GetRoom looks up a room record.
func (a *RoomAdapter) GetRoom(ctx context.Context, roomID string) (*history.GetRoomResponse, error) {
	req := history.GetRoomRequest{RoomID: roomID}
	var resp history.GetRoomResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceGetRoom,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &resp, nil
}
