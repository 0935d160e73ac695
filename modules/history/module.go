// Package history persists room messages and room metadata.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ephemeral-chat/config"
	"github.com/example/ephemeral-chat/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Module owns the history database and exposes room services.
type Module struct {
	cfg      config.Config
	logger   types.Logger
	db       *gorm.DB
	repo     *Repository
	cached   *CachedStore
	redis    *redis.Client
	eventBus mono.EventBus
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new history module.
func NewModule(cfg config.Config, logger types.Logger) *Module {
	return &Module{
		cfg:    cfg,
		logger: logger.WithModule("history"),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "history"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.RoomCreatedV1.ToBase(),
	}
}

// RegisterServices registers request-reply services.
// Names are prefixed by the framework, e.g. "services.history.create-room".
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, "create-room", json.Unmarshal, json.Marshal, m.createRoom,
	); err != nil {
		return fmt.Errorf("failed to register create-room service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "get-room", json.Unmarshal, json.Marshal, m.getRoom,
	); err != nil {
		return fmt.Errorf("failed to register get-room service: %w", err)
	}

	m.logger.Info("Registered services", "services", "services.history.{create-room,get-room}")
	return nil
}

// Start opens the database and, when configured, the Redis cache.
func (m *Module) Start(ctx context.Context) error {
	m.logger.Info("Opening SQLite database", "path", m.cfg.DBPath)

	db, err := OpenDB(m.cfg.DBPath, m.cfg.DBDebug)
	if err != nil {
		return err
	}
	m.db = db
	m.repo = NewRepository(db)

	if m.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     m.cfg.RedisAddr,
			Password: m.cfg.RedisPassword,
			DB:       m.cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			m.logger.Warn("Redis unavailable, serving history without cache", "addr", m.cfg.RedisAddr, "error", err)
			_ = client.Close()
		} else {
			m.redis = client
			m.cached = NewCachedStore(m.repo, client, "chat:", m.cfg.CacheTTL, m.logger)
			m.logger.Info("History cache enabled", "addr", m.cfg.RedisAddr, "ttl", m.cfg.CacheTTL)
		}
	}

	m.logger.Info("Module started")
	return nil
}

// Stop closes the database and the Redis client.
func (m *Module) Stop(_ context.Context) error {
	var errs []error
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to get sql.DB: %w", err))
		} else if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	m.logger.Info("Module stopped")
	return errors.Join(errs...)
}

// Health reports database and cache reachability.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{Healthy: false, Message: "database not initialized"}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("failed to get sql.DB: %v", err)}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("database ping failed: %v", err)}
	}

	details := map[string]any{
		"driver": "sqlite",
		"path":   m.cfg.DBPath,
		"cache":  m.cached != nil,
	}
	if m.cached != nil {
		if err := m.cached.Ping(ctx); err != nil {
			details["cache_error"] = err.Error()
		}
		details["cache_stats"] = m.cached.Stats()
	}

	return mono.HealthStatus{Healthy: true, Message: "operational", Details: details}
}

// Store returns the store sessions should use. Valid after Start.
func (m *Module) Store() Store {
	if m.cached != nil {
		return m.cached
	}
	return m.repo
}

func (m *Module) createRoom(ctx context.Context, _ CreateRoomRequest, _ *mono.Msg) (CreateRoomResponse, error) {
	room, err := m.repo.CreateRoom(ctx)
	if err != nil {
		return CreateRoomResponse{}, err
	}

	if m.eventBus != nil {
		if err := events.RoomCreatedV1.Publish(m.eventBus, events.RoomCreatedEvent{
			RoomID:    room.ID,
			Timestamp: room.CreatedAt,
		}, nil); err != nil {
			m.logger.Warn("Failed to publish RoomCreated event", "room_id", room.ID, "error", err)
		}
	}

	m.logger.Info("Room created", "room_id", room.ID)
	return CreateRoomResponse{RoomID: room.ID, CreatedAt: room.CreatedAt}, nil
}

func (m *Module) getRoom(ctx context.Context, req GetRoomRequest, _ *mono.Msg) (GetRoomResponse, error) {
	if req.RoomID == "" {
		return GetRoomResponse{}, ErrEmptyRoomID
	}

	room, err := m.repo.GetRoom(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return GetRoomResponse{RoomID: req.RoomID, Exists: false}, nil
		}
		return GetRoomResponse{}, err
	}
	return GetRoomResponse{RoomID: room.ID, Exists: true, CreatedAt: room.CreatedAt}, nil
}
