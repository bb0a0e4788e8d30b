package shutdown

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/failsafe/logging"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New("one or more handlers failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Phases used by the failsafe binaries. Lower phases stop first.
const (
	// PhaseIngress stops listeners and the bus bridge so no new
	// connections or command requests arrive.
	PhaseIngress = 10

	// PhaseSessions ends server connection handlers and client sessions.
	// A client session stopped here is disarmed, not failed.
	PhaseSessions = 20

	// PhaseBackends closes the registry and the bus connection.
	PhaseBackends = 30

	// PhaseTelemetry flushes spans last so earlier phases are traced.
	PhaseTelemetry = 40
)

// Handler is implemented by components that need graceful shutdown.
type Handler interface {
	// OnShutdown is called once. ctx ends at the shutdown deadline.
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// OnShutdown implements Handler.
func (f HandlerFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult contains the result of a single handler's shutdown.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result contains the complete shutdown result.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult

	// Err is nil if all handlers succeeded.
	Err error
}

// Failed returns true if any handler failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the coordinator.
type Config struct {
	// Timeout for signal-triggered shutdown.
	// Default: 30 seconds
	Timeout time.Duration

	// DefaultPhase is assigned by Register.
	// Default: PhaseSessions
	DefaultPhase int

	// ContinueOnError runs later phases after a handler fails.
	ContinueOnError bool

	// Logger receives one line per handler and the signal that started
	// shutdown.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 || c.DefaultPhase < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		DefaultPhase:    PhaseSessions,
		ContinueOnError: true,
	}
}
