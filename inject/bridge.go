package inject

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vinayprograms/failsafe/bus"
	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/logging"
)

// BridgeConfig configures a BusBridge.
type BridgeConfig struct {
	// Subject to receive requests on.
	// Default: failsafe.command
	Subject string

	// Timeout bounds one dispatch.
	// Default: 30 seconds
	Timeout time.Duration

	Logger *logging.Logger
}

// BusBridge turns bus messages into command dispatches. Requests are plain
// JSON CommandRequest bodies and are handled in arrival order.
type BusBridge struct {
	bus        bus.MessageBus
	dispatcher Dispatcher
	subject    string
	timeout    time.Duration
	logger     *logging.Logger
}

// NewBusBridge creates a bridge. It does nothing until Run.
func NewBusBridge(b bus.MessageBus, d Dispatcher, cfg BridgeConfig) (*BusBridge, error) {
	if b == nil || d == nil {
		return nil, ferrors.InvalidInput("bus and dispatcher are required")
	}
	if cfg.Subject == "" {
		cfg.Subject = bus.DefaultCommandSubject
	}
	if err := bus.ValidateSubject(cfg.Subject, true); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
	}

	return &BusBridge{
		bus:        b,
		dispatcher: d,
		subject:    cfg.Subject,
		timeout:    cfg.Timeout,
		logger:     logger.WithComponent("bridge"),
	}, nil
}

// Run consumes requests until ctx ends or the subscription closes.
func (br *BusBridge) Run(ctx context.Context) error {
	sub, err := br.bus.Subscribe(br.subject)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	br.logger.Info("listening for commands", map[string]interface{}{"subject": br.subject})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return bus.ErrClosed
			}
			br.handle(ctx, msg)
		}
	}
}

func (br *BusBridge) handle(ctx context.Context, msg *bus.Message) {
	var reply Reply

	req, err := ParseRequest(msg.Data)
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, br.timeout)
		reply.Result, err = Dispatch(ctx, br.dispatcher, req)
		cancel()
	}
	if err != nil {
		reply.Error = asError(err)
		br.logger.Warn("bus command failed", map[string]interface{}{
			"subject": msg.Subject,
			"error":   err.Error(),
		})
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		br.logger.Error("encode reply", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := br.bus.Publish(msg.Reply, data); err != nil {
		br.logger.Warn("publish reply", map[string]interface{}{
			"reply": msg.Reply,
			"error": err.Error(),
		})
	}
}
