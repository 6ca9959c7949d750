// Package config defines the service configuration and its defaults.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for the realtime service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// RealtimeConfig holds the connection core settings.
type RealtimeConfig struct {
	HeartbeatInterval Duration        `yaml:"heartbeat_interval"`
	SendBuffer        int             `yaml:"send_buffer"`
	MaxMessageSize    int64           `yaml:"max_message_size"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-connection envelope throttling settings.
type RateLimitConfig struct {
	Burst          int      `yaml:"burst"`
	RefillInterval Duration `yaml:"refill_interval"`
}

// LogConfig holds logging settings. An empty File disables the rotating file
// sink and logs go to the console only.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Console    bool   `yaml:"console"`
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:8080"}
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		c.Realtime.HeartbeatInterval = Duration(30 * time.Second)
	}
	if c.Realtime.SendBuffer <= 0 {
		c.Realtime.SendBuffer = 256
	}
	if c.Realtime.MaxMessageSize <= 0 {
		c.Realtime.MaxMessageSize = 4096
	}
	if c.Realtime.RateLimit.Burst <= 0 {
		c.Realtime.RateLimit.Burst = 20
	}
	if c.Realtime.RateLimit.RefillInterval <= 0 {
		c.Realtime.RateLimit.RefillInterval = Duration(time.Second)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.File == "" {
		c.Log.Console = true
	}
}

// Validate checks the configuration for values defaults cannot repair.
func (c *Config) Validate() error {
	if c.Realtime.HeartbeatInterval.Std() < time.Second {
		return fmt.Errorf("realtime.heartbeat_interval must be at least 1s, got %s", c.Realtime.HeartbeatInterval.Std())
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}
