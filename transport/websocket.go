package transport

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

// WebSocketConn implements Conn over a gorilla websocket.
type WebSocketConn struct {
	id     string
	addr   string
	conn   *websocket.Conn
	config WebSocketConfig

	recv chan []byte
	done chan struct{}

	writeMu sync.Mutex

	mu   sync.Mutex
	err  error
	once sync.Once
}

// WebSocketConfig holds WebSocket transport configuration.
type WebSocketConfig struct {
	Config // Embed base config

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the opening handshake when dialing.
	HandshakeTimeout time.Duration

	// MaxMessageSize limits incoming frame size.
	MaxMessageSize int64

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Config:           DefaultConfig(),
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   1024 * 1024, // 1MB
		PingInterval:     30 * time.Second,
	}
}

// NewWebSocketConn wraps an established connection and starts its reader.
func NewWebSocketConn(conn *websocket.Conn, cfg WebSocketConfig) *WebSocketConn {
	if cfg.RecvBufferSize <= 0 {
		cfg.RecvBufferSize = DefaultConfig().RecvBufferSize
	}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	c := &WebSocketConn{
		id:     uuid.NewString(),
		addr:   conn.RemoteAddr().String(),
		conn:   conn,
		config: cfg,
		recv:   make(chan []byte, cfg.RecvBufferSize),
		done:   make(chan struct{}),
	}

	go c.readLoop()
	if cfg.PingInterval > 0 {
		go c.pingLoop()
	}
	return c
}

// NewWebSocketUpgrader creates an upgrader for accepting WebSocket connections.
func NewWebSocketUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // clients are not browsers
	}
}

// Dial opens a client connection, presenting header during the handshake.
func Dial(ctx context.Context, url string, header http.Header, cfg WebSocketConfig) (*WebSocketConn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		opts := []ferrors.Option{ferrors.WithCause(err), ferrors.WithMetadata("url", url)}
		if resp != nil {
			opts = append(opts, ferrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
		}
		return nil, ferrors.Connection("dial server", opts...)
	}
	return NewWebSocketConn(conn, cfg), nil
}

// Accept upgrades an HTTP request to a server-side connection.
func Accept(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, cfg WebSocketConfig) (*WebSocketConn, error) {
	if upgrader == nil {
		upgrader = NewWebSocketUpgrader()
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, ferrors.Connection("upgrade connection",
			ferrors.WithCause(err), ferrors.WithMetadata("remote_addr", r.RemoteAddr))
	}
	return NewWebSocketConn(conn, cfg), nil
}

// ID implements Conn.
func (c *WebSocketConn) ID() string {
	return c.id
}

// RemoteAddr implements Conn.
func (c *WebSocketConn) RemoteAddr() string {
	return c.addr
}

// Recv implements Conn.
func (c *WebSocketConn) Recv() <-chan []byte {
	return c.recv
}

// Done implements Conn.
func (c *WebSocketConn) Done() <-chan struct{} {
	return c.done
}

// Err implements Conn.
func (c *WebSocketConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send implements Conn.
func (c *WebSocketConn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Wrap(err, "send frame")
	}
	select {
	case <-c.done:
		return c.closedError()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		mapped := mapError(err)
		c.shutdown(mapped)
		return mapped
	}
	return nil
}

// Close implements Conn. A close frame is sent on a best-effort basis.
func (c *WebSocketConn) Close() error {
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.shutdown(ferrors.New(ferrors.ErrCodePeerClosed, "connection closed locally", ferrors.WithCause(ErrClosed)))
	return nil
}

// shutdown records the first terminal error and releases the socket.
func (c *WebSocketConn) shutdown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

func (c *WebSocketConn) closedError() error {
	if err := c.Err(); err != nil {
		return ferrors.Wrap(err, "send on closed connection")
	}
	return ferrors.New(ferrors.ErrCodePeerClosed, "send on closed connection", ferrors.WithCause(ErrClosed))
}

// readLoop is the only writer to recv.
func (c *WebSocketConn) readLoop() {
	defer close(c.recv)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(mapError(err))
			return
		}

		select {
		case c.recv <- data:
		case <-c.done:
			return
		}
	}
}

func (c *WebSocketConn) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
		}
	}
}

// mapError classifies socket errors: close frames are PEER_CLOSED,
// everything else CONNECTION_FAILED.
func mapError(err error) error {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ferrors.New(ferrors.ErrCodePeerClosed, "peer closed connection",
			ferrors.WithCause(err), ferrors.WithMetadata("close_code", strconv.Itoa(ce.Code)))
	}
	return ferrors.Connection("connection lost", ferrors.WithCause(err))
}
