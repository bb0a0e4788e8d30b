package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vinayprograms/failsafe/envelope"
	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/logging"
	"github.com/vinayprograms/failsafe/metrics"
	"github.com/vinayprograms/failsafe/telemetry"
	"github.com/vinayprograms/failsafe/transport"
)

// Dialer opens the transport to the server.
type Dialer func(ctx context.Context, url string, header http.Header) (transport.Conn, error)

// Client connects to a failsafe server and runs sessions.
type Client struct {
	config   Config
	verifier envelope.Verifier
	executor CommandExecutor

	logger  *logging.Logger
	metrics metrics.Collector
	tracer  *telemetry.Tracer
	now     func() time.Time
	dial    Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.WithComponent("client")
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = metrics.OrNop(m)
	}
}

// WithClock overrides the clock used for freshness and the watchdog.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithDialer overrides how the transport is opened.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

// WithTracer sets the tracer for failsafe and command spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// New creates a client. The verifier must hold the server's trusted keys
// before the first message arrives.
func New(cfg Config, verifier envelope.Verifier, executor CommandExecutor, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if verifier == nil || executor == nil {
		return nil, ErrInvalidConfig
	}

	c := &Client{
		config:   cfg.withDefaults(),
		verifier: verifier,
		executor: executor,
		logger:   logging.New().WithComponent("client"),
		metrics:  metrics.NewNop(),
		tracer:   telemetry.GetTracer(),
		now:      time.Now,
	}
	c.dial = c.dialWebSocket
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

func (c *Client) dialWebSocket(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	conn, err := transport.Dial(ctx, url, header, c.config.WebSocket)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect opens the transport and returns an armed session. A dial failure
// runs the break commands once and returns a CONNECTION_FAILED error.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	header := http.Header{}
	if c.config.ClientID != "" {
		header.Set(c.config.Header, c.config.ClientID)
	}

	conn, err := c.dial(ctx, c.config.ServerURL, header)
	if err != nil {
		if !ferrors.Is(err, ferrors.ErrCodeConnection) {
			err = ferrors.WrapWithCode(err, ferrors.ErrCodeConnection, "dial failed",
				ferrors.WithMetadata("url", c.config.ServerURL))
		}
		c.logger.Error("connect_failed", map[string]interface{}{
			"url":   c.config.ServerURL,
			"error": err.Error(),
		})
		c.failsafe(context.WithoutCancel(ctx), err)
		return nil, err
	}

	c.logger.Info("connected", map[string]interface{}{
		"url":    c.config.ServerURL,
		"client": c.config.ClientID,
		"conn":   conn.ID(),
	})
	return c.NewSession(conn)
}

// Run connects and drives the session until it ends.
func (c *Client) Run(ctx context.Context) error {
	s, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

// ExecuteBreakCommands runs every configured break command in order. A
// failing command is logged and counted and the rest still run.
func (c *Client) ExecuteBreakCommands(ctx context.Context) {
	c.executeBreakCommands(ctx)
}

func (c *Client) executeBreakCommands(ctx context.Context) int {
	failed := 0
	for _, bc := range c.config.BreakCommands {
		if err := c.execute(ctx, "break", bc.Command, copyArgs(bc.Args)); err != nil {
			failed++
		}
	}
	return failed
}

// failsafe runs the break sequence under a span. Callers guarantee it is
// reached at most once per session.
func (c *Client) failsafe(ctx context.Context, reason error) {
	c.logger.FailsafeTriggered(reason, len(c.config.BreakCommands))
	c.metrics.RecordFailsafe(string(ferrors.Code(reason)))

	ctx, span := c.tracer.StartFailsafeSpan(ctx, c.config.ClientID, reason)
	failed := c.executeBreakCommands(ctx)
	c.tracer.EndFailsafeSpan(span, telemetry.FailsafeSpanOptions{
		Commands: len(c.config.BreakCommands),
		Failed:   failed,
	})
}

// execute hands one command to the application. Panics in the executor are
// reported as failures so the break sequence can continue.
func (c *Client) execute(ctx context.Context, source, command string, args map[string]any) (err error) {
	ctx, span := c.tracer.StartCommandSpan(ctx, source, command)
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.Internal("command handler panicked",
				ferrors.WithCommand(command),
				ferrors.WithMetadata("panic", fmt.Sprint(r)))
		}
		if err != nil {
			err = ferrors.CommandFailed(command, err, ferrors.WithMetadata("source", source))
			c.logger.CommandFailed(command, err)
		}
		c.metrics.RecordCommandExecution(source, err == nil)
		c.tracer.EndCommandSpan(span, args, err)
	}()
	return c.executor.ExecuteCommand(ctx, command, args)
}
