package transport

import (
	"context"
	"errors"
)

// ErrClosed is the cause of errors returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Conn is an ordered, message-oriented connection.
type Conn interface {
	// ID uniquely identifies this connection handle.
	ID() string

	// RemoteAddr is the transport-level peer address.
	RemoteAddr() string

	// Send writes one frame. It blocks until the frame is handed to the
	// transport or ctx ends.
	Send(ctx context.Context, data []byte) error

	// Recv delivers inbound frames in order. It is closed when the
	// connection ends.
	Recv() <-chan []byte

	// Err reports why the connection ended, or nil while it is open.
	Err() error

	// Done is closed when the connection ends.
	Done() <-chan struct{}

	// Close ends the connection. It is idempotent.
	Close() error
}

// Config holds common transport configuration.
type Config struct {
	// RecvBufferSize is the size of the receive channel buffer.
	// Default: 64
	RecvBufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize: 64,
	}
}
