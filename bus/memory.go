package bus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

// MemoryBus implements MessageBus in process. Subjects match NATS
// wildcard rules. Useful for tests and single-binary deployments.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   []*memorySub
	closed atomic.Bool
}

type memorySub struct {
	subject string
	ch      chan *Message
	closed  atomic.Bool
	bus     *MemoryBus
	mu      sync.Mutex
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{config: cfg}
}

// Publish delivers to every matching subscriber without blocking.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	return b.publish(&Message{Subject: subject, Data: data})
}

func (b *MemoryBus) publish(msg *Message) error {
	if err := ValidateSubject(msg.Subject, false); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	subs := make([]*memorySub, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchSubject(sub.subject, msg.Subject) {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(msg)
	}
	return nil
}

// Subscribe creates a subscription. Wildcards are allowed.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject, true); err != nil {
		return nil, err
	}

	sub := &memorySub{
		subject: subject,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, ErrClosed
	}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Request publishes data with a private reply subject and waits for the
// first response.
func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte) (*Message, error) {
	inbox, err := b.Subscribe("_INBOX." + uuid.NewString())
	if err != nil {
		return nil, err
	}
	defer inbox.Unsubscribe()

	if !b.hasSubscribers(subject) {
		return nil, ErrNoResponders
	}
	if err := b.publish(&Message{Subject: subject, Data: data, Reply: inbox.(*memorySub).subject}); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-inbox.Messages():
		if !ok {
			return nil, ErrClosed
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ferrors.Wrap(ctx.Err(), "request "+subject)
	}
}

func (b *MemoryBus) hasSubscribers(subject string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if matchSubject(sub.subject, subject) {
			return true
		}
	}
	return false
}

// Close shuts down the bus and ends every subscription.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	s.bus.mu.Unlock()

	s.close()
	return nil
}

// deliver drops the message when the buffer is full.
func (s *memorySub) deliver(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *memorySub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return
	}
	close(s.ch)
}

// matchSubject reports whether subject matches pattern using NATS
// wildcard rules.
func matchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
