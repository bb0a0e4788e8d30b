package client

import (
	"errors"
	"net/url"
	"time"

	"github.com/vinayprograms/failsafe/envelope"
	"github.com/vinayprograms/failsafe/heartbeat"
	"github.com/vinayprograms/failsafe/transport"
)

// DefaultClientIDHeader carries the client ID during the handshake.
const DefaultClientIDHeader = "X-Client-ID"

// recvGrace is added to the failsafe timeout to bound a single receive.
const recvGrace = 5 * time.Second

// ErrInvalidConfig is returned for unusable client configuration.
var ErrInvalidConfig = errors.New("invalid client configuration")

// BreakCommand is one entry of the failsafe sequence.
type BreakCommand struct {
	Command string         `toml:"command" json:"command"`
	Args    map[string]any `toml:"args" json:"args,omitempty"`
}

// Config configures a client.
type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://host:8765/.
	ServerURL string

	// ClientID is presented to the server. Empty lets the server fall back
	// to the connection's peer address.
	ClientID string

	// Header names the handshake header carrying ClientID.
	// Default: X-Client-ID
	Header string

	// FailsafeTimeout without a verified message before the failsafe runs.
	// Default: 15 seconds
	FailsafeTimeout time.Duration

	// CheckInterval of the watchdog.
	// Default: 5 seconds
	CheckInterval time.Duration

	// RecvTimeout bounds the wait for any single inbound frame.
	// Default: FailsafeTimeout + 5 seconds
	RecvTimeout time.Duration

	// FreshnessWindow for payload timestamps.
	// Default: 60 seconds
	FreshnessWindow time.Duration

	// BreakCommands run in order, once, when the session ends badly.
	BreakCommands []BreakCommand

	// WebSocket transport settings.
	WebSocket transport.WebSocketConfig
}

// DefaultConfig returns configuration with protocol defaults.
func DefaultConfig() Config {
	return Config{
		Header:          DefaultClientIDHeader,
		FailsafeTimeout: heartbeat.DefaultFailsafeTimeout,
		CheckInterval:   heartbeat.DefaultCheckInterval,
		RecvTimeout:     heartbeat.DefaultFailsafeTimeout + recvGrace,
		FreshnessWindow: envelope.FreshnessWindow,
		WebSocket:       transport.DefaultWebSocketConfig(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.FailsafeTimeout < 0 || c.CheckInterval < 0 || c.RecvTimeout < 0 || c.FreshnessWindow < 0 {
		return ErrInvalidConfig
	}
	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return ErrInvalidConfig
		}
	}
	for _, bc := range c.BreakCommands {
		if bc.Command == "" {
			return ErrInvalidConfig
		}
	}
	return nil
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Header == "" {
		c.Header = d.Header
	}
	if c.FailsafeTimeout <= 0 {
		c.FailsafeTimeout = d.FailsafeTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = c.FailsafeTimeout + recvGrace
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = d.FreshnessWindow
	}
	if c.WebSocket == (transport.WebSocketConfig{}) {
		c.WebSocket = d.WebSocket
	}

	cmds := make([]BreakCommand, len(c.BreakCommands))
	for i, bc := range c.BreakCommands {
		cmds[i] = BreakCommand{Command: bc.Command, Args: copyArgs(bc.Args)}
	}
	c.BreakCommands = cmds
	return c
}

func copyArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
