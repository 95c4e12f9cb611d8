package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level configuration for chatstats.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Stats    StatsConfig    `koanf:"stats"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // "debug" or "release"
}

// DatabaseConfig holds the durable store connection settings.
type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// RedisConfig holds the ephemeral store settings. When disabled, an
// in-process store is used instead; counts then do not survive a restart
// between reconciliation passes.
type RedisConfig struct {
	Enabled   bool   `koanf:"enabled"`
	URL       string `koanf:"url"`
	KeyPrefix string `koanf:"key_prefix"`
}

// StatsConfig holds recording and reconciliation settings.
type StatsConfig struct {
	TrackMessages   bool   `koanf:"track_messages"`
	TrackCommands   bool   `koanf:"track_commands"`
	SaveChatHistory bool   `koanf:"save_chat_history"`
	BufferCapacity  int    `koanf:"buffer_capacity"`
	SyncInterval    string `koanf:"sync_interval"` // parsed and validated on startup
	MessageTTL      string `koanf:"message_ttl"`
	CommandTTL      string `koanf:"command_ttl"`
	RetentionDays   int    `koanf:"retention_days"`
	TopLimit        int    `koanf:"top_limit"`
}

// Durations parses the interval and TTL strings. Called once on startup
// so a typo fails fast instead of silently defaulting.
func (c StatsConfig) Durations() (sync, messageTTL, commandTTL time.Duration, err error) {
	sync, err = time.ParseDuration(c.SyncInterval)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid stats.sync_interval %q: %w", c.SyncInterval, err)
	}
	messageTTL, err = time.ParseDuration(c.MessageTTL)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid stats.message_ttl %q: %w", c.MessageTTL, err)
	}
	commandTTL, err = time.ParseDuration(c.CommandTTL)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid stats.command_ttl %q: %w", c.CommandTTL, err)
	}
	if messageTTL <= sync || commandTTL <= sync {
		return 0, 0, 0, fmt.Errorf("counter TTLs must exceed stats.sync_interval (%s)", sync)
	}
	return sync, messageTTL, commandTTL, nil
}

// Load loads the configuration from the given file path and environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.max_body_size_mb": 1,
		"server.mode":             "release",
		"database.dsn":            "postgres://localhost:5432/chatstats?sslmode=disable",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"redis.enabled":           false,
		"redis.url":               "redis://localhost:6379/0",
		"redis.key_prefix":        "",
		"stats.track_messages":    true,
		"stats.track_commands":    true,
		"stats.save_chat_history": true,
		"stats.buffer_capacity":   1000,
		"stats.sync_interval":     "1m",
		"stats.message_ttl":       "168h", // 7 days
		"stats.command_ttl":       "720h", // 30 days
		"stats.retention_days":    90,
		"stats.top_limit":         10,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// 2. Load from file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Load from Environment Variables
	// CHATSTATS_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("CHATSTATS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CHATSTATS_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
