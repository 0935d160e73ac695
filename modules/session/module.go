package session

import (
	"context"
	"sync"
	"time"

	"github.com/example/ephemeral-chat/config"
	"github.com/example/ephemeral-chat/events"
	"github.com/example/ephemeral-chat/modules/history"
	"github.com/example/ephemeral-chat/modules/presence"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// StoreProvider hands out the history store once its module has started.
type StoreProvider interface {
	Store() history.Store
}

// Module runs the room session manager and the orphan reaper.
type Module struct {
	cfg      config.Config
	registry presence.Registry
	router   Broadcaster
	stores   StoreProvider
	logger   types.Logger
	eventBus mono.EventBus

	manager  *Manager
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ EventPublisher             = (*Module)(nil)
)

// NewModule creates a new session module.
func NewModule(cfg config.Config, registry presence.Registry, router Broadcaster, stores StoreProvider, logger types.Logger) *Module {
	return &Module{
		cfg:      cfg,
		registry: registry,
		router:   router,
		stores:   stores,
		logger:   logger.WithModule("session"),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "session"
}

// Dependencies makes the framework start the history module first.
func (m *Module) Dependencies() []string {
	return []string{"history"}
}

// SetDependencyServiceContainer is unused; the store is reached through StoreProvider.
func (m *Module) SetDependencyServiceContainer(string, mono.ServiceContainer) {}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.UserJoinedV1.ToBase(),
		events.UserLeftV1.ToBase(),
		events.MessageSentV1.ToBase(),
		events.RoomDestroyedV1.ToBase(),
	}
}

// Start builds the manager and starts the reaper.
func (m *Module) Start(_ context.Context) error {
	m.manager = NewManager(Options{
		Registry:     m.registry,
		Store:        m.stores.Store(),
		Router:       m.router,
		Publisher:    m,
		HistoryLimit: m.cfg.HistoryLimit,
		Logger:       m.logger,
	})

	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})
	go m.runReaper()

	m.logger.Info("Module started", "history_limit", m.cfg.HistoryLimit, "reap_interval", m.cfg.ReapInterval)
	return nil
}

func (m *Module) runReaper() {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	defer close(m.doneChan)

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.reapOnce()
		}
	}
}

func (m *Module) reapOnce() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	reaped, err := m.manager.ReapOrphans(ctx, time.Now().Add(-m.cfg.RoomTTL))
	if err != nil {
		m.logger.Warn("Orphan reap failed", "reaped", reaped, "error", err)
		return
	}
	if reaped > 0 {
		m.logger.Info("Reaped orphaned rooms", "count", reaped)
	}
}

// Stop stops the reaper.
func (m *Module) Stop(ctx context.Context) error {
	if m.stopChan == nil {
		return nil
	}

	m.stopOnce.Do(func() {
		close(m.stopChan)
	})

	select {
	case <-m.doneChan:
		m.logger.Info("Module stopped")
	case <-ctx.Done():
		m.logger.Warn("Reaper shutdown timeout exceeded")
		return ctx.Err()
	}
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.manager == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"active_rooms": m.manager.ActiveRooms(),
		},
	}
}

// NewConnection creates the session side of a new transport connection. Valid after Start.
func (m *Module) NewConnection(connID string) *Connection {
	return m.manager.NewConnection(connID)
}

// UserJoined publishes a UserJoined event.
func (m *Module) UserJoined(evt events.UserJoinedEvent) {
	if m.eventBus == nil {
		return
	}
	if err := events.UserJoinedV1.Publish(m.eventBus, evt, nil); err != nil {
		m.logger.Warn("Failed to publish UserJoined event", "room_id", evt.RoomID, "error", err)
	}
}

// UserLeft publishes a UserLeft event.
func (m *Module) UserLeft(evt events.UserLeftEvent) {
	if m.eventBus == nil {
		return
	}
	if err := events.UserLeftV1.Publish(m.eventBus, evt, nil); err != nil {
		m.logger.Warn("Failed to publish UserLeft event", "room_id", evt.RoomID, "error", err)
	}
}

// MessageSent publishes a MessageSent event.
func (m *Module) MessageSent(evt events.MessageSentEvent) {
	if m.eventBus == nil {
		return
	}
	if err := events.MessageSentV1.Publish(m.eventBus, evt, nil); err != nil {
		m.logger.Warn("Failed to publish MessageSent event", "room_id", evt.RoomID, "error", err)
	}
}

// RoomDestroyed publishes a RoomDestroyed event.
func (m *Module) RoomDestroyed(evt events.RoomDestroyedEvent) {
	if m.eventBus == nil {
		return
	}
	if err := events.RoomDestroyedV1.Publish(m.eventBus, evt, nil); err != nil {
		m.logger.Warn("Failed to publish RoomDestroyed event", "room_id", evt.RoomID, "error", err)
	}
}
