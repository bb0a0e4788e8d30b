package bus

import (
	"context"
	"strings"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

// DefaultCommandSubject is where out-of-band command requests arrive.
const DefaultCommandSubject = "failsafe.command"

// Common errors.
var (
	ErrClosed         = ferrors.New(ferrors.ErrCodeConnection, "bus closed")
	ErrNoResponders   = ferrors.New(ferrors.ErrCodeNotFound, "no responders")
	ErrInvalidSubject = ferrors.New(ferrors.ErrCodeInvalidInput, "invalid subject")
)

// Message is one message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte

	// Reply is where a response should be published. Empty when the sender
	// does not expect one.
	Reply string
}

// MessageBus carries command requests between operators and servers.
type MessageBus interface {
	// Publish sends data to every subscriber of subject.
	Publish(subject string, data []byte) error

	// Subscribe delivers every message published to subject.
	Subscribe(subject string) (Subscription, error)

	// Request publishes data with a reply subject and waits for the first
	// response or ctx.
	Request(ctx context.Context, subject string, data []byte) (*Message, error)

	// Close shuts down the bus. Open subscriptions end.
	Close() error
}

// Subscription is an active subscription.
type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan *Message

	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels. Messages beyond it are dropped.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks a subject for publishing or subscribing. Tokens
// must be non-empty and free of whitespace. Wildcards are only accepted
// when allowWildcards is set: "*" as a whole token and ">" as the last.
func ValidateSubject(subject string, allowWildcards bool) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		if tok == "" || strings.ContainsAny(tok, " \t\r\n") {
			return ErrInvalidSubject
		}
		if strings.ContainsAny(tok, "*>") {
			if !allowWildcards {
				return ErrInvalidSubject
			}
			if tok != "*" && tok != ">" {
				return ErrInvalidSubject
			}
			if tok == ">" && i != len(tokens)-1 {
				return ErrInvalidSubject
			}
		}
	}
	return nil
}
