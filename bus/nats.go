package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/logging"
)

// NATSBus implements MessageBus using NATS.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration

	// Logger receives connection state changes.
	Logger *logging.Logger
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		Name:           "failsafe",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSBus connects to NATS.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	cfg = cfg.withDefaults()

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeConnection, "nats connect",
			ferrors.WithMetadata("url", cfg.URL))
	}

	cfg.Logger.Info("nats connected", map[string]interface{}{"url": conn.ConnectedUrlRedacted()})
	return &NATSBus{conn: conn, config: cfg}, nil
}

// NewNATSBusFromConn creates a NATSBus from an existing connection.
func NewNATSBusFromConn(conn *nats.Conn, cfg NATSConfig) *NATSBus {
	return &NATSBus{conn: conn, config: cfg.withDefaults()}
}

func (c NATSConfig) withDefaults() NATSConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultConfig().BufferSize
	}
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Logger == nil {
		c.Logger = logging.New()
	}
	c.Logger = c.Logger.WithComponent("bus")
	return c
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	logger := cfg.Logger
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			fields := map[string]interface{}{}
			if err != nil {
				fields["error"] = err.Error()
			}
			logger.Warn("nats disconnected", fields)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", map[string]interface{}{"url": nc.ConnectedUrlRedacted()})
		}),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	return opts
}

// Publish sends a message to a subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject, false); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return ferrors.WrapWithCode(err, ferrors.ErrCodeSendFailed, "nats publish")
	}
	return nil
}

// Subscribe creates a subscription to a subject.
func (b *NATSBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject, true); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	sub := &natsSub{ch: make(chan *Message, b.config.BufferSize)}
	ns, err := b.conn.Subscribe(subject, sub.deliver)
	if err != nil {
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeConnection, "nats subscribe",
			ferrors.WithMetadata("subject", subject))
	}
	sub.sub = ns
	return sub, nil
}

// Request sends a request and waits for the first reply.
func (b *NATSBus) Request(ctx context.Context, subject string, data []byte) (*Message, error) {
	if err := ValidateSubject(subject, false); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	reply, err := b.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return nil, ErrNoResponders
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeTimeout, "nats request "+subject)
		}
		return nil, ferrors.Wrap(err, "nats request "+subject)
	}

	return &Message{Subject: reply.Subject, Data: reply.Data, Reply: reply.Reply}, nil
}

// Close drains the connection.
func (b *NATSBus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	return nil
}

// Conn returns the underlying NATS connection for advanced use.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

type natsSub struct {
	sub *nats.Subscription

	mu     sync.Mutex
	closed bool
	ch     chan *Message
}

func (s *natsSub) deliver(m *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- &Message{Subject: m.Subject, Data: m.Data, Reply: m.Reply}:
	default:
	}
}

// Messages returns the message channel.
func (s *natsSub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *natsSub) Unsubscribe() error {
	err := s.sub.Unsubscribe()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return err
}
