// Package api serves the REST endpoints and the chat websocket.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ephemeral-chat/config"
	"github.com/example/ephemeral-chat/modules/broadcast"
	"github.com/example/ephemeral-chat/modules/presence"
	"github.com/example/ephemeral-chat/modules/session"
	"github.com/example/ephemeral-chat/modules/stats"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// SessionProvider creates the session side of a websocket connection.
type SessionProvider interface {
	NewConnection(connID string) *session.Connection
}

// StatsProvider exposes event counters.
type StatsProvider interface {
	Snapshot() stats.Snapshot
}

// HealthChecker is a module that reports its health.
type HealthChecker interface {
	Name() string
	Health(ctx context.Context) mono.HealthStatus
}

// APIModule is the HTTP API module with WebSocket support.
type APIModule struct {
	cfg      config.Config
	logger   types.Logger
	app      *fiber.App
	rooms    RoomPort
	registry presence.Registry
	router   *broadcast.Router
	sessions SessionProvider
	stats    StatsProvider
	checks   []HealthChecker
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule.
func NewModule(
	cfg config.Config,
	registry presence.Registry,
	router *broadcast.Router,
	sessions SessionProvider,
	stats StatsProvider,
	logger types.Logger,
) *APIModule {
	return &APIModule{
		cfg:      cfg,
		logger:   logger.WithModule("api"),
		registry: registry,
		router:   router,
		sessions: sessions,
		stats:    stats,
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"history"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "history":
		m.rooms = NewRoomAdapter(container)
	}
}

// AddHealthCheck includes a module in the /health response.
func (m *APIModule) AddHealthCheck(modules ...HealthChecker) {
	m.checks = append(m.checks, modules...)
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.rooms == nil {
		return fmt.Errorf("history service dependency not set")
	}

	m.app = m.newApp()

	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.cfg.Port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("HTTP server started", "port", m.cfg.Port, "cors", m.cfg.AllowedOrigins())
	return nil
}

// Stop closes open websockets and shuts down the Fiber HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server", "clients", m.router.ClientCount())
	m.router.CloseAll()
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: map[string]any{
			"port":              m.cfg.Port,
			"connected_clients": m.router.ClientCount(),
		},
	}
}

func (m *APIModule) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Ephemeral Chat",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
		Next: func(c *fiber.Ctx) bool {
			return c.Get("Upgrade") == "websocket"
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: m.cfg.AllowedOrigins(),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	m.setupRoutes(app)
	return app
}

// errorHandler handles Fiber errors.
func (m *APIModule) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	if code >= fiber.StatusInternalServerError {
		m.logger.Error("HTTP error", "code", code, "path", c.Path(), "error", err)
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}
