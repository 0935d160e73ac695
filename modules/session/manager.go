// Package session implements the room protocol: join, send, leave and room teardown.
package session

import (
	"context"
	"fmt"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/events"
	"github.com/example/ephemeral-chat/modules/history"
	"github.com/example/ephemeral-chat/modules/presence"
	"github.com/go-monolith/mono/pkg/types"
)

// Outbound frame types.
const (
	FrameHistory = "history"
	FrameMessage = "message"
	FrameNotice  = "notice"
)

// LeaveReason says why a connection left a room.
type LeaveReason string

const (
	ReasonExplicit LeaveReason = events.LeaveReasonExplicit
	ReasonAbrupt   LeaveReason = events.LeaveReasonAbrupt
	ReasonRebind   LeaveReason = events.LeaveReasonRebind
)

// Broadcaster delivers frames to connections.
type Broadcaster interface {
	Broadcast(roomID, msgType string, payload any)
	Send(connID, msgType string, payload any)
}

// EventPublisher receives domain events after the fact. Implementations must not block.
type EventPublisher interface {
	UserJoined(evt events.UserJoinedEvent)
	UserLeft(evt events.UserLeftEvent)
	MessageSent(evt events.MessageSentEvent)
	RoomDestroyed(evt events.RoomDestroyedEvent)
}

type noopPublisher struct{}

func (noopPublisher) UserJoined(events.UserJoinedEvent)       {}
func (noopPublisher) UserLeft(events.UserLeftEvent)           {}
func (noopPublisher) MessageSent(events.MessageSentEvent)     {}
func (noopPublisher) RoomDestroyed(events.RoomDestroyedEvent) {}

// Options configures a Manager.
type Options struct {
	Registry     presence.Registry
	Store        history.Store
	Router       Broadcaster
	Publisher    EventPublisher
	HistoryLimit int
	Logger       types.Logger
}

// Manager runs the room protocol. Every event for a room, including its store
// I/O, runs under that room's lock, so broadcasts for a room go out in the
// order events were accepted and the last-leave deletion cannot interleave
// with a concurrent join.
type Manager struct {
	registry     presence.Registry
	store        history.Store
	router       Broadcaster
	publisher    EventPublisher
	historyLimit int
	logger       types.Logger
	locks        *roomLocks
	now          func() time.Time
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	limit := opts.HistoryLimit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return &Manager{
		registry:     opts.Registry,
		store:        opts.Store,
		router:       opts.Router,
		publisher:    publisher,
		historyLimit: limit,
		logger:       opts.Logger,
		locks:        newRoomLocks(),
		now:          time.Now,
	}
}

// Join registers the connection, sends it the room history and announces it.
// A failed history read is delivered as an empty history; the join still happens.
func (m *Manager) Join(ctx context.Context, roomID, connID, name string) {
	unlock := m.locks.lock(roomID)
	defer unlock()

	m.registry.Register(roomID, connID)

	messages, err := m.store.Recent(ctx, roomID, m.historyLimit)
	if err != nil {
		m.logger.Error("Failed to read history", "room_id", roomID, "error", err)
		messages = nil
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	m.router.Send(connID, FrameHistory, messages)
	m.router.Broadcast(roomID, FrameNotice, domain.NewNotice(name+" joined.", m.now()))

	m.publisher.UserJoined(events.UserJoinedEvent{
		RoomID:    roomID,
		ConnID:    connID,
		Username:  name,
		Members:   m.registry.MemberCount(roomID),
		Timestamp: m.now(),
	})
	m.logger.Debug("User joined room", "room_id", roomID, "conn_id", connID)
}

// SendMessage stores text and broadcasts the stored record to the room.
// Empty room or text is dropped and returns (nil, nil).
func (m *Manager) SendMessage(ctx context.Context, roomID, connID, name, text string) (*domain.Message, error) {
	if roomID == "" || text == "" {
		return nil, nil
	}

	unlock := m.locks.lock(roomID)
	defer unlock()

	msg, err := m.store.Append(ctx, roomID, name, text)
	if err != nil {
		return nil, fmt.Errorf("failed to store message from %s: %w", connID, err)
	}

	m.router.Broadcast(roomID, FrameMessage, msg)

	m.publisher.MessageSent(events.MessageSentEvent{
		MessageID: msg.ID,
		RoomID:    roomID,
		Sender:    msg.Sender,
		Timestamp: msg.CreatedAt,
	})
	return msg, nil
}

// Leave unregisters the connection and announces it to the remaining members.
// When the room becomes empty its history and metadata are deleted.
func (m *Manager) Leave(ctx context.Context, roomID, connID, name string, reason LeaveReason) {
	unlock := m.locks.lock(roomID)
	defer unlock()

	empty := m.registry.Unregister(roomID, connID)
	m.router.Broadcast(roomID, FrameNotice, domain.NewNotice(name+" left.", m.now()))

	m.publisher.UserLeft(events.UserLeftEvent{
		RoomID:    roomID,
		ConnID:    connID,
		Username:  name,
		Reason:    string(reason),
		Timestamp: m.now(),
	})
	m.logger.Debug("User left room", "room_id", roomID, "conn_id", connID, "reason", reason)

	if empty {
		m.destroy(context.WithoutCancel(ctx), roomID, false)
	}
}

// ReapOrphans deletes stored rooms that have no members: leftovers of failed
// cleanups and room records older than staleBefore that nobody joined.
func (m *Manager) ReapOrphans(ctx context.Context, staleBefore time.Time) (int, error) {
	candidates, err := m.store.ReapCandidates(ctx, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to list reap candidates: %w", err)
	}

	reaped := 0
	for _, roomID := range candidates {
		if ctx.Err() != nil {
			return reaped, ctx.Err()
		}
		if m.reapRoom(ctx, roomID) {
			reaped++
		}
	}
	return reaped, nil
}

func (m *Manager) reapRoom(ctx context.Context, roomID string) bool {
	unlock := m.locks.lock(roomID)
	defer unlock()

	if m.registry.MemberCount(roomID) > 0 {
		return false
	}
	return m.destroy(ctx, roomID, true)
}

// destroy deletes messages and then the room record. Failures are logged; the
// record stays behind on a message deletion failure so the reaper retries.
// Callers hold the room lock.
func (m *Manager) destroy(ctx context.Context, roomID string, reaped bool) bool {
	failed := false
	if err := m.store.DeleteMessages(ctx, roomID); err != nil {
		m.logger.Error("Failed to delete room history", "room_id", roomID, "error", err)
		failed = true
	} else if err := m.store.DeleteRoom(ctx, roomID); err != nil {
		m.logger.Error("Failed to delete room record", "room_id", roomID, "error", err)
		failed = true
	}

	m.publisher.RoomDestroyed(events.RoomDestroyedEvent{
		RoomID:    roomID,
		Reaped:    reaped,
		Failed:    failed,
		Timestamp: m.now(),
	})
	if !failed {
		m.logger.Info("Room destroyed", "room_id", roomID, "reaped", reaped)
	}
	return !failed
}

// ActiveRooms returns the number of rooms with at least one member.
func (m *Manager) ActiveRooms() int {
	return len(m.registry.Rooms())
}
