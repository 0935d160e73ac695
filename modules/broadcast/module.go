package broadcast

import (
	"context"

	"github.com/example/ephemeral-chat/modules/presence"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// BroadcastModule owns the Router and closes every client queue on shutdown.
type BroadcastModule struct {
	router *Router
	logger types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule.
func NewModule(registry presence.Registry, queueSize int, logger types.Logger) *BroadcastModule {
	logger = logger.WithModule("broadcast")
	return &BroadcastModule{
		router: NewRouter(registry, queueSize, logger),
		logger: logger,
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start starts the module.
func (m *BroadcastModule) Start(_ context.Context) error {
	m.logger.Info("Module started", "queue_size", m.router.queueSize)
	return nil
}

// Stop closes all client queues.
func (m *BroadcastModule) Stop(_ context.Context) error {
	clientCount := m.router.ClientCount()
	m.router.CloseAll()
	m.logger.Info("Module stopped", "clients", clientCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	sent, dropped := m.router.Stats()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_clients": m.router.ClientCount(),
			"frames_sent":       sent,
			"frames_dropped":    dropped,
		},
	}
}

// Router returns the router for the session and api modules.
func (m *BroadcastModule) Router() *Router {
	return m.router
}
