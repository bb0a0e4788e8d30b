package registry

import (
	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/transport"
)

// Common errors.
var (
	ErrNotFound  = ferrors.New(ferrors.ErrCodeNotFound, "client not registered")
	ErrClosed    = ferrors.New(ferrors.ErrCodeInternal, "registry closed")
	ErrInvalidID = ferrors.New(ferrors.ErrCodeInvalidInput, "invalid client ID")
)

// Target is one registered client, snapshotted for dispatch.
type Target struct {
	ClientID string
	Conn     transport.Conn
}

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded    EventType = "added"
	EventReplaced EventType = "replaced"
	EventRemoved  EventType = "removed"
)

// Event represents a change in the registry.
type Event struct {
	// Type indicates what happened.
	Type EventType

	// ClientID is the affected key.
	ClientID string

	// ConnID is the handle now registered (added, replaced) or the handle
	// that was removed.
	ConnID string

	// RemoteAddr is the peer address of ConnID.
	RemoteAddr string
}

// Registry maps live client IDs to their connections.
type Registry interface {
	// Register inserts or replaces the entry for clientID. A replaced
	// connection is not closed. Reports whether an entry was replaced.
	Register(clientID string, conn transport.Conn) (bool, error)

	// Deregister removes clientID only if it still maps to conn. Reports
	// whether anything was removed.
	Deregister(clientID string, conn transport.Conn) bool

	// Get returns the connection registered for clientID.
	Get(clientID string) (transport.Conn, error)

	// Targets snapshots one client, or all clients when clientID is empty.
	// An unknown single client is ErrNotFound.
	Targets(clientID string) ([]Target, error)

	// List returns registered client IDs in sorted order.
	List() []string

	// Len returns the number of registered clients.
	Len() int

	// Watch returns a channel of registry events.
	// The channel is closed when the registry is closed.
	Watch() (<-chan Event, error)

	// Close shuts down the registry.
	Close() error
}
