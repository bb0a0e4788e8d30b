package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/failsafe/envelope"
	"github.com/vinayprograms/failsafe/logging"
	"github.com/vinayprograms/failsafe/metrics"
)

// Protocol timing defaults.
const (
	// DefaultInterval is the heartbeat period.
	DefaultInterval = 5 * time.Second

	// DefaultFailsafeTimeout is how long a client waits without a verified
	// message before running its break commands.
	DefaultFailsafeTimeout = 15 * time.Second

	// DefaultCheckInterval is the watchdog tick.
	DefaultCheckInterval = 5 * time.Second
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// State is the watchdog lifecycle. It only moves forward.
type State int32

const (
	// StateActive means the session is live and the failsafe is armed.
	StateActive State = iota

	// StateExpiring means a terminal condition won the transition and the
	// failsafe is running.
	StateExpiring

	// StateExpired is terminal.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpiring:
		return "expiring"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Sink is where an emitter writes signed heartbeats. transport.Conn
// satisfies it.
type Sink interface {
	Send(ctx context.Context, data []byte) error
}

// WatchdogConfig configures a client-side watchdog.
type WatchdogConfig struct {
	// Timeout without a verified message before the watchdog fires.
	// Default: 15 seconds
	Timeout time.Duration

	// CheckInterval between staleness checks.
	// Default: 5 seconds
	CheckInterval time.Duration

	// OnExpire runs the failsafe. It is called at most once, by whichever
	// path wins the Active to Expiring transition.
	OnExpire func(reason error)

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// Validate checks the configuration.
func (c *WatchdogConfig) Validate() error {
	if c.Timeout < 0 || c.CheckInterval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultWatchdogConfig returns configuration with protocol defaults.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		Timeout:       DefaultFailsafeTimeout,
		CheckInterval: DefaultCheckInterval,
	}
}

// EmitterConfig configures a per-connection heartbeat emitter.
type EmitterConfig struct {
	// Signer wraps each heartbeat payload.
	Signer envelope.Signer

	// Sink receives the signed bytes.
	Sink Sink

	// ClientID is used for logging only.
	ClientID string

	// Interval between heartbeats.
	// Default: 5 seconds
	Interval time.Duration

	// Now overrides the clock used for payload timestamps.
	Now func() time.Time

	Logger  *logging.Logger
	Metrics metrics.Collector
}

// Validate checks the configuration.
func (c *EmitterConfig) Validate() error {
	if c.Signer == nil || c.Sink == nil {
		return ErrInvalidConfig
	}
	if c.Interval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultEmitterConfig returns configuration with protocol defaults.
func DefaultEmitterConfig() EmitterConfig {
	return EmitterConfig{
		Interval: DefaultInterval,
	}
}
