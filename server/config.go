package server

import (
	"errors"
	"time"

	"github.com/vinayprograms/failsafe/heartbeat"
	"github.com/vinayprograms/failsafe/transport"
)

// DefaultClientIDHeader is read during the upgrade to name the client.
const DefaultClientIDHeader = "X-Client-ID"

// ErrInvalidConfig is returned for unusable server configuration.
var ErrInvalidConfig = errors.New("invalid server configuration")

// Config configures a Server.
type Config struct {
	// Header names the handshake header carrying the client ID. Clients
	// that omit it are registered under their peer address.
	// Default: X-Client-ID
	Header string

	// HeartbeatInterval between signed heartbeats on each connection.
	// Default: 5 seconds
	HeartbeatInterval time.Duration

	// SendTimeout bounds the write of one command to one target.
	// Default: 10 seconds
	SendTimeout time.Duration

	// WebSocket transport settings for accepted connections.
	WebSocket transport.WebSocketConfig
}

// DefaultConfig returns configuration with protocol defaults.
func DefaultConfig() Config {
	return Config{
		Header:            DefaultClientIDHeader,
		HeartbeatInterval: heartbeat.DefaultInterval,
		SendTimeout:       10 * time.Second,
		WebSocket:         transport.DefaultWebSocketConfig(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.HeartbeatInterval < 0 || c.SendTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Header == "" {
		c.Header = d.Header
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.WebSocket == (transport.WebSocketConfig{}) {
		c.WebSocket = d.WebSocket
	}
	return c
}
