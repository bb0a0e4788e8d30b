package inject

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vinayprograms/failsafe/bus"
	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/logging"
	"github.com/vinayprograms/failsafe/registry"
)

// DefaultEventSubject prefixes client presence subjects, for example
// failsafe.client.added.
const DefaultEventSubject = "failsafe.client"

// ClientEvent is the published form of a registry change.
type ClientEvent struct {
	Type       registry.EventType `json:"type"`
	ClientID   string             `json:"client_id"`
	ConnID     string             `json:"conn_id"`
	RemoteAddr string             `json:"remote_addr,omitempty"`
	Time       time.Time          `json:"time"`
}

// EventPublisher republishes registry changes on the bus so operators can
// watch clients come and go.
type EventPublisher struct {
	bus      bus.MessageBus
	registry registry.Registry
	prefix   string
	now      func() time.Time
	logger   *logging.Logger
}

// NewEventPublisher creates a publisher. prefix defaults to
// DefaultEventSubject.
func NewEventPublisher(b bus.MessageBus, r registry.Registry, prefix string, logger *logging.Logger) (*EventPublisher, error) {
	if b == nil || r == nil {
		return nil, ferrors.InvalidInput("bus and registry are required")
	}
	if prefix == "" {
		prefix = DefaultEventSubject
	}
	if err := bus.ValidateSubject(prefix, false); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.New()
	}
	return &EventPublisher{
		bus:      b,
		registry: r,
		prefix:   prefix,
		now:      time.Now,
		logger:   logger.WithComponent("events"),
	}, nil
}

// Run publishes events until ctx ends or the registry is closed. A closed
// registry returns nil.
func (p *EventPublisher) Run(ctx context.Context) error {
	events, err := p.registry.Watch()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.publish(ev)
		}
	}
}

func (p *EventPublisher) publish(ev registry.Event) {
	data, err := json.Marshal(ClientEvent{
		Type:       ev.Type,
		ClientID:   ev.ClientID,
		ConnID:     ev.ConnID,
		RemoteAddr: ev.RemoteAddr,
		Time:       p.now().UTC(),
	})
	if err != nil {
		return
	}

	subject := p.prefix + "." + string(ev.Type)
	if err := p.bus.Publish(subject, data); err != nil {
		p.logger.Warn("publish client event failed", map[string]interface{}{
			"subject": subject,
			"client":  ev.ClientID,
			"error":   err.Error(),
		})
	}
}
