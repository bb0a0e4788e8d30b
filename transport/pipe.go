package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

// pipe is the state shared by both ends of an in-memory connection.
type pipe struct {
	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

// PipeConn is one end of an in-memory Conn pair.
type PipeConn struct {
	id   string
	addr string
	p    *pipe
	recv chan []byte
	peer *PipeConn
}

// Pipe returns two connected ends. A frame sent on one is received on the
// other. Closing either end closes both. Sends fail rather than block when
// the peer's buffer is full.
func Pipe(cfg Config) (*PipeConn, *PipeConn) {
	if cfg.RecvBufferSize <= 0 {
		cfg.RecvBufferSize = DefaultConfig().RecvBufferSize
	}

	p := &pipe{done: make(chan struct{})}
	a := &PipeConn{id: uuid.NewString(), addr: "pipe-a", p: p, recv: make(chan []byte, cfg.RecvBufferSize)}
	b := &PipeConn{id: uuid.NewString(), addr: "pipe-b", p: p, recv: make(chan []byte, cfg.RecvBufferSize)}
	a.peer, b.peer = b, a
	return a, b
}

// ID implements Conn.
func (c *PipeConn) ID() string {
	return c.id
}

// RemoteAddr implements Conn. It names the other end.
func (c *PipeConn) RemoteAddr() string {
	return c.peer.addr
}

// Recv implements Conn.
func (c *PipeConn) Recv() <-chan []byte {
	return c.recv
}

// Done implements Conn.
func (c *PipeConn) Done() <-chan struct{} {
	return c.p.done
}

// Err implements Conn.
func (c *PipeConn) Err() error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	return c.p.err
}

// Send implements Conn.
func (c *PipeConn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Wrap(err, "send frame")
	}

	c.p.mu.Lock()
	defer c.p.mu.Unlock()

	if c.p.closed {
		return ferrors.Wrap(c.p.err, "send on closed connection")
	}

	frame := append([]byte(nil), data...)
	select {
	case c.peer.recv <- frame:
		return nil
	default:
		return ferrors.New(ferrors.ErrCodeSendFailed, "pipe buffer full")
	}
}

// Close implements Conn.
func (c *PipeConn) Close() error {
	c.CloseWithError(ferrors.New(ferrors.ErrCodePeerClosed, "pipe closed", ferrors.WithCause(ErrClosed)))
	return nil
}

// CloseWithError ends both sides, recording err as the reason. Frames
// already buffered stay readable.
func (c *PipeConn) CloseWithError(err error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()

	if c.p.closed {
		return
	}
	c.p.closed = true
	c.p.err = err
	close(c.recv)
	close(c.peer.recv)
	close(c.p.done)
}
