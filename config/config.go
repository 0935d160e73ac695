// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime settings.
type Config struct {
	Port    string `envconfig:"PORT" default:"5000"`
	DBPath  string `envconfig:"DB_PATH" default:"chat.db"`
	DBDebug bool   `envconfig:"DB_DEBUG" default:"false"`

	// HistoryLimit caps the number of messages replayed on join.
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"100"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
	ClientURL          string `envconfig:"CLIENT_URL"`

	SendQueueSize int     `envconfig:"SEND_QUEUE_SIZE" default:"256"`
	MessageRate   float64 `envconfig:"MESSAGE_RATE" default:"10"`
	MessageBurst  int     `envconfig:"MESSAGE_BURST" default:"20"`

	ReapInterval time.Duration `envconfig:"REAP_INTERVAL" default:"1m"`
	RoomTTL      time.Duration `envconfig:"ROOM_TTL" default:"24h"`

	// LogLevel is "info" or "error".
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that envconfig cannot express.
func (c Config) Validate() error {
	if c.HistoryLimit <= 0 || c.HistoryLimit > 100 {
		return fmt.Errorf("HISTORY_LIMIT must be between 1 and 100, got %d", c.HistoryLimit)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("SEND_QUEUE_SIZE must be positive, got %d", c.SendQueueSize)
	}
	if c.MessageRate <= 0 || c.MessageBurst <= 0 {
		return fmt.Errorf("MESSAGE_RATE and MESSAGE_BURST must be positive")
	}
	if c.LogLevel != "info" && c.LogLevel != "error" {
		return fmt.Errorf("LOG_LEVEL must be info or error, got %q", c.LogLevel)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("REAP_INTERVAL must be positive, got %s", c.ReapInterval)
	}
	return nil
}

// AllowedOrigins merges CORS_ALLOWED_ORIGINS with CLIENT_URL into the
// comma-separated form the fiber cors middleware expects.
func (c Config) AllowedOrigins() string {
	var out []string
	seen := make(map[string]bool)
	for _, o := range append(strings.Split(c.CORSAllowedOrigins, ","), c.ClientURL) {
		o = strings.TrimSpace(o)
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return strings.Join(out, ",")
}
