package registry

import (
	"sort"
	"sync"

	"github.com/vinayprograms/failsafe/logging"
	"github.com/vinayprograms/failsafe/metrics"
	"github.com/vinayprograms/failsafe/transport"
)

// MemoryRegistry is the in-process Registry. It is the only shared mutable
// state on the server.
type MemoryRegistry struct {
	mu       sync.RWMutex
	clients  map[string]transport.Conn
	watchers []chan Event
	closed   bool

	logger  *logging.Logger
	metrics metrics.Collector
}

// MemoryConfig configures the in-memory registry.
type MemoryConfig struct {
	Logger  *logging.Logger
	Metrics metrics.Collector
}

// NewMemoryRegistry creates a new in-memory registry.
func NewMemoryRegistry(cfg MemoryConfig) *MemoryRegistry {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
	}
	return &MemoryRegistry{
		clients:  make(map[string]transport.Conn),
		watchers: make([]chan Event, 0),
		logger:   logger.WithComponent("registry"),
		metrics:  metrics.OrNop(cfg.Metrics),
	}
}

// Register inserts or replaces the entry for clientID.
func (r *MemoryRegistry) Register(clientID string, conn transport.Conn) (bool, error) {
	if clientID == "" || conn == nil {
		return false, ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrClosed
	}

	prev, exists := r.clients[clientID]
	r.clients[clientID] = conn

	eventType := EventAdded
	if exists {
		eventType = EventReplaced
		r.logger.Info("client id reused, replacing registration", map[string]interface{}{
			"client_id": clientID,
			"old_conn":  prev.ID(),
			"new_conn":  conn.ID(),
		})
	}
	r.metrics.RecordConnectionEvent(string(eventType))
	r.metrics.SetConnectedClients(len(r.clients))
	r.notifyWatchers(Event{Type: eventType, ClientID: clientID, ConnID: conn.ID(), RemoteAddr: conn.RemoteAddr()})

	return exists, nil
}

// Deregister removes clientID if it still maps to conn. A stale handle
// whose entry was already replaced leaves the newer entry in place.
func (r *MemoryRegistry) Deregister(clientID string, conn transport.Conn) bool {
	if clientID == "" || conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	current, exists := r.clients[clientID]
	if !exists || current.ID() != conn.ID() {
		return false
	}

	delete(r.clients, clientID)
	r.metrics.RecordConnectionEvent(string(EventRemoved))
	r.metrics.SetConnectedClients(len(r.clients))
	r.notifyWatchers(Event{Type: EventRemoved, ClientID: clientID, ConnID: conn.ID(), RemoteAddr: conn.RemoteAddr()})

	return true
}

// Get returns the connection registered for clientID.
func (r *MemoryRegistry) Get(clientID string) (transport.Conn, error) {
	if clientID == "" {
		return nil, ErrInvalidID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	conn, exists := r.clients[clientID]
	if !exists {
		return nil, ErrNotFound
	}
	return conn, nil
}

// Targets snapshots one client, or all clients when clientID is empty.
// The result is sorted by client ID and is not affected by later changes.
func (r *MemoryRegistry) Targets(clientID string) ([]Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	if clientID != "" {
		conn, exists := r.clients[clientID]
		if !exists {
			return nil, ErrNotFound
		}
		return []Target{{ClientID: clientID, Conn: conn}}, nil
	}

	result := make([]Target, 0, len(r.clients))
	for id, conn := range r.clients {
		result = append(result, Target{ClientID: id, Conn: conn})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ClientID < result[j].ClientID
	})
	return result, nil
}

// List returns registered client IDs in sorted order.
func (r *MemoryRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered clients.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Watch returns a channel of registry events.
func (r *MemoryRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)

	return ch, nil
}

// Close shuts down the registry. Registered connections are not closed.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil

	return nil
}

// notifyWatchers sends an event to all watchers.
// Must be called with lock held.
func (r *MemoryRegistry) notifyWatchers(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}
