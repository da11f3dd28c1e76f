// Package config loads runtime configuration for the chatroom binaries from
// the environment, with sensible defaults for local use.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ServerConfig configures the hub process.
type ServerConfig struct {
	BindAddress        string        `envconfig:"BIND_ADDRESS" default:":8080"`
	AllowedOrigins     []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	QueueCapacity      int           `envconfig:"QUEUE_CAPACITY" default:"128"`
	IdleTimeout        time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxFrameBytes      int64         `envconfig:"MAX_FRAME_BYTES" default:"16384"`
	DecodeFailureLimit int           `envconfig:"DECODE_FAILURE_LIMIT" default:"3"`
	RateLimitBurst     int           `envconfig:"RATE_LIMIT_BURST" default:"5"`
	RateLimitInterval  time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
}

// ClientConfig configures a client session.
type ClientConfig struct {
	Endpoint         string        `envconfig:"ENDPOINT" default:"ws://localhost:8080/ws"`
	DisplayName      string        `envconfig:"DISPLAY_NAME" default:"Guest"`
	NameServiceURL   string        `envconfig:"NAME_SERVICE_URL"`
	HandshakeTimeout time.Duration `envconfig:"HANDSHAKE_TIMEOUT" default:"10s"`
	InitialBackoff   time.Duration `envconfig:"INITIAL_BACKOFF" default:"1s"`
	MaxBackoff       time.Duration `envconfig:"MAX_BACKOFF" default:"30s"`
	EventBuffer      int           `envconfig:"EVENT_BUFFER" default:"128"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadServer reads server configuration from CHATROOM_* variables.
func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("CHATROOM", &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}
	return cfg, nil
}

// LoadClient reads client configuration from CHATROOM_* variables.
func LoadClient() (ClientConfig, error) {
	var cfg ClientConfig
	if err := envconfig.Process("CHATROOM", &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	return cfg, nil
}
