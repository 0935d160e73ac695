package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/example/ephemeral-chat/config"
	"github.com/example/ephemeral-chat/modules/api"
	"github.com/example/ephemeral-chat/modules/broadcast"
	"github.com/example/ephemeral-chat/modules/history"
	"github.com/example/ephemeral-chat/modules/presence"
	"github.com/example/ephemeral-chat/modules/session"
	"github.com/example/ephemeral-chat/modules/stats"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Ephemeral Chat - Fiber WebSocket + SQLite history ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := mono.LogLevelInfo
	if cfg.LogLevel == "error" {
		logLevel = mono.LogLevelError
	}

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(logLevel),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	logger := app.Logger()

	// The registry and router are shared in-process state, not services.
	registry := presence.NewMemoryRegistry()

	historyModule := history.NewModule(cfg, logger)
	broadcastModule := broadcast.NewModule(registry, cfg.SendQueueSize, logger)
	sessionModule := session.NewModule(cfg, registry, broadcastModule.Router(), historyModule, logger)
	statsModule := stats.NewModule(logger)
	apiModule := api.NewModule(cfg, registry, broadcastModule.Router(), sessionModule, statsModule, logger)
	apiModule.AddHealthCheck(historyModule, broadcastModule, sessionModule, statsModule)

	// Order: storage first, then the room protocol, then the transport.
	// - history: SQLite store + create-room/get-room services
	// - broadcast: per-connection outbound queues
	// - session: join/send/leave protocol + orphan reaper (depends on history)
	// - stats: event consumer for counters
	// - api: Fiber HTTP/WebSocket server (depends on history)
	for _, module := range []mono.Module{historyModule, broadcastModule, sessionModule, statsModule, apiModule} {
		if err := app.Register(module); err != nil {
			log.Fatalf("Failed to register module %s: %v", module.Name(), err)
		}
	}

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg config.Config) {
	cache := "disabled"
	if cfg.RedisAddr != "" {
		cache = cfg.RedisAddr
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("  Database:      %s", cfg.DBPath)
	log.Printf("  History cache: %s", cache)
	log.Printf("  History limit: %d messages", cfg.HistoryLimit)
	log.Printf("  CORS origins:  %s", cfg.AllowedOrigins())
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health          - Health check")
	log.Println("  POST   /api/rooms       - Allocate a room id")
	log.Println("  GET    /api/rooms/:id   - Room status")
	log.Println("  GET    /api/stats       - Event counters")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", cfg.Port)
	log.Println(`  {"type":"join","payload":{"room_id":"...","username":"..."}}`)
	log.Println(`  {"type":"message","payload":{"room_id":"...","text":"..."}}`)
	log.Println(`  {"type":"leave"}`)
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
