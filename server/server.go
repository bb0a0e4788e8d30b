package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/failsafe/envelope"
	"github.com/vinayprograms/failsafe/heartbeat"
	"github.com/vinayprograms/failsafe/logging"
	"github.com/vinayprograms/failsafe/metrics"
	"github.com/vinayprograms/failsafe/registry"
	"github.com/vinayprograms/failsafe/telemetry"
	"github.com/vinayprograms/failsafe/transport"
)

// Server accepts client connections, keeps each one alive with signed
// heartbeats and dispatches signed commands.
type Server struct {
	config   Config
	signer   envelope.Signer
	registry registry.Registry
	upgrader *websocket.Upgrader

	logger  *logging.Logger
	metrics metrics.Collector
	tracer  *telemetry.Tracer
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry replaces the default in-memory registry.
func WithRegistry(r registry.Registry) Option {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = metrics.OrNop(m)
	}
}

// WithTracer sets the tracer for dispatch spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Server) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the clock used for payload timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a server that signs with signer.
func New(cfg Config, signer envelope.Signer, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, ErrInvalidConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg.withDefaults(),
		signer:   signer,
		upgrader: transport.NewWebSocketUpgrader(),
		logger:   logging.New(),
		metrics:  metrics.NewNop(),
		tracer:   telemetry.GetTracer(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = registry.NewMemoryRegistry(registry.MemoryConfig{Logger: s.logger, Metrics: s.metrics})
	}
	s.logger = s.logger.WithComponent("server")
	return s, nil
}

// Registry returns the connection registry.
func (s *Server) Registry() registry.Registry {
	return s.registry
}

// Signer returns the server identity.
func (s *Server) Signer() envelope.Signer {
	return s.signer
}

// Clients returns the registered client IDs in sorted order.
func (s *Server) Clients() []string {
	return s.registry.List()
}

// Close ends every connection handler. The registry is left open.
func (s *Server) Close() error {
	s.cancel()
	return nil
}

// Handler returns the websocket endpoint. The client ID is read from the
// configured header and falls back to the peer address.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.Accept(w, r, s.upgrader, s.config.WebSocket)
		if err != nil {
			s.logger.Warn("upgrade failed", map[string]interface{}{
				"remote": r.RemoteAddr,
				"error":  err.Error(),
			})
			return
		}

		clientID := r.Header.Get(s.config.Header)
		if clientID == "" {
			clientID = r.RemoteAddr
		}
		_ = s.HandleConn(r.Context(), clientID, conn)
	})
}

// HandleConn serves one connection until the emitter fails, the peer
// closes, ctx ends or the server is closed. The registry entry is removed
// only if it still belongs to conn. The returned error is the reason the
// connection ended.
func (s *Server) HandleConn(ctx context.Context, clientID string, conn transport.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	replaced, err := s.registry.Register(clientID, conn)
	if err != nil {
		conn.Close()
		return err
	}
	s.logger.ClientConnected(clientID, conn.ID(), replaced)

	emitter, err := heartbeat.NewEmitter(heartbeat.EmitterConfig{
		Signer:   s.signer,
		Sink:     conn,
		ClientID: clientID,
		Interval: s.config.HeartbeatInterval,
		Now:      s.now,
		Logger:   s.logger,
		Metrics:  s.metrics,
	})
	if err != nil {
		s.release(clientID, conn, err)
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- emitter.Run(ctx) }()

	for {
		select {
		case err := <-errCh:
			s.release(clientID, conn, err)
			return err

		case _, ok := <-conn.Recv():
			if ok {
				// Clients have nothing to say; frames are drained so the
				// reader keeps servicing control messages.
				continue
			}
			cancel()
			<-errCh
			err := conn.Err()
			s.release(clientID, conn, err)
			return err
		}
	}
}

// release deregisters conn if it is still current and closes it.
func (s *Server) release(clientID string, conn transport.Conn, reason error) {
	s.registry.Deregister(clientID, conn)
	conn.Close()
	s.logger.ClientDisconnected(clientID, conn.ID(), reason)
}
