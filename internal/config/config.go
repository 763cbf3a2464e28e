// Package config loads and sanitizes the runtime configuration for the IRC
// server from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// RateLimit defines the parameters for per-connection message rate limiting.
type RateLimit struct {
	Burst          int           `envconfig:"RATE_LIMIT_BURST" default:"10"`
	RefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
}

// Config holds the server configuration, including transport limits and the
// location of the persistent store.
type Config struct {
	Port            string        `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	DatabasePath    string        `envconfig:"DATABASE_PATH" default:"irc.db"`
	MaxMessageSize  int64         `envconfig:"MAX_MESSAGE_SIZE" default:"4096"`
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" default:"50"`
	SendQueueSize   int           `envconfig:"SEND_QUEUE_SIZE" default:"256"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	RateLimit       RateLimit
}

// Load reads the configuration from the environment and applies defaults for
// anything unset or out of range.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	cfg.sanitize()
	return &cfg, nil
}

// Default returns the built-in configuration, used by tests and as a
// fallback when the environment is empty.
func Default() *Config {
	cfg := &Config{
		Port:            ":8080",
		AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:8080"},
		DatabasePath:    "irc.db",
		MaxMessageSize:  4096,
		HistoryLimit:    50,
		SendQueueSize:   256,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		RateLimit: RateLimit{
			Burst:          10,
			RefillInterval: time.Second,
		},
	}
	return cfg
}

func (c *Config) sanitize() {
	def := Default()

	if strings.TrimSpace(c.Port) == "" {
		c.Port = def.Port
	}
	if !strings.HasPrefix(c.Port, ":") && !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.DatabasePath == "" {
		c.DatabasePath = def.DatabasePath
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = def.AllowedOrigins
	}
	c.AllowedOrigins = origins
}

// SlogLevel maps the configured log level string onto a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
