// Package stats counts chat domain events published on the event bus.
package stats

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/example/ephemeral-chat/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	RoomsCreated   uint64 `json:"roomsCreated"`
	RoomsDestroyed uint64 `json:"roomsDestroyed"`
	RoomsReaped    uint64 `json:"roomsReaped"`
	CleanupFailed  uint64 `json:"cleanupFailed"`
	Joins          uint64 `json:"joins"`
	Leaves         uint64 `json:"leaves"`
	Disconnects    uint64 `json:"disconnects"`
	Messages       uint64 `json:"messages"`
	PeakRoomSize   uint64 `json:"peakRoomSize"`
}

// Module consumes chat events and keeps running totals.
type Module struct {
	logger types.Logger

	roomsCreated   atomic.Uint64
	roomsDestroyed atomic.Uint64
	roomsReaped    atomic.Uint64
	cleanupFailed  atomic.Uint64
	joins          atomic.Uint64
	leaves         atomic.Uint64
	disconnects    atomic.Uint64
	messages       atomic.Uint64
	peakRoomSize   atomic.Uint64
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new stats module.
func NewModule(logger types.Logger) *Module {
	return &Module{logger: logger.WithModule("stats")}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "stats"
}

// Start starts the module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Module started")
	return nil
}

// Stop stops the module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Module stopped", "messages", m.messages.Load())
	return nil
}

// Health reports the counters.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"stats": m.Snapshot()},
	}
}

// RegisterEventConsumers subscribes to all chat events.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomCreatedV1, m.handleRoomCreated, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomCreated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserJoinedV1, m.handleUserJoined, m,
	); err != nil {
		return fmt.Errorf("failed to register UserJoined consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserLeftV1, m.handleUserLeft, m,
	); err != nil {
		return fmt.Errorf("failed to register UserLeft consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageSentV1, m.handleMessageSent, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageSent consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomDestroyedV1, m.handleRoomDestroyed, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomDestroyed consumer: %w", err)
	}

	m.logger.Info("Registered event consumers", "events", "RoomCreated, UserJoined, UserLeft, MessageSent, RoomDestroyed")
	return nil
}

func (m *Module) handleRoomCreated(_ context.Context, _ events.RoomCreatedEvent, _ *mono.Msg) error {
	m.roomsCreated.Add(1)
	return nil
}

func (m *Module) handleUserJoined(_ context.Context, evt events.UserJoinedEvent, _ *mono.Msg) error {
	m.joins.Add(1)
	size := uint64(max(evt.Members, 0))
	for {
		peak := m.peakRoomSize.Load()
		if size <= peak || m.peakRoomSize.CompareAndSwap(peak, size) {
			break
		}
	}
	return nil
}

func (m *Module) handleUserLeft(_ context.Context, evt events.UserLeftEvent, _ *mono.Msg) error {
	if evt.Reason == events.LeaveReasonAbrupt {
		m.disconnects.Add(1)
	} else {
		m.leaves.Add(1)
	}
	return nil
}

func (m *Module) handleMessageSent(_ context.Context, _ events.MessageSentEvent, _ *mono.Msg) error {
	m.messages.Add(1)
	return nil
}

func (m *Module) handleRoomDestroyed(_ context.Context, evt events.RoomDestroyedEvent, _ *mono.Msg) error {
	switch {
	case evt.Failed:
		m.cleanupFailed.Add(1)
	case evt.Reaped:
		m.roomsReaped.Add(1)
	default:
		m.roomsDestroyed.Add(1)
	}
	return nil
}

// Snapshot returns the current counters.
func (m *Module) Snapshot() Snapshot {
	return Snapshot{
		RoomsCreated:   m.roomsCreated.Load(),
		RoomsDestroyed: m.roomsDestroyed.Load(),
		RoomsReaped:    m.roomsReaped.Load(),
		CleanupFailed:  m.cleanupFailed.Load(),
		Joins:          m.joins.Load(),
		Leaves:         m.leaves.Load(),
		Disconnects:    m.disconnects.Load(),
		Messages:       m.messages.Load(),
		PeakRoomSize:   m.peakRoomSize.Load(),
	}
}
