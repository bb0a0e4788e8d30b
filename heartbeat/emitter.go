package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/failsafe/envelope"
	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/logging"
	"github.com/vinayprograms/failsafe/metrics"
)

// Emitter signs and sends a fresh timestamp to one connection on a fixed
// period.
type Emitter struct {
	signer   envelope.Signer
	sink     Sink
	clientID string
	interval time.Duration
	now      func() time.Time
	logger   *logging.Logger
	metrics  metrics.Collector

	running atomic.Bool
	sent    atomic.Uint64
}

// NewEmitter creates a heartbeat emitter.
func NewEmitter(cfg EmitterConfig) (*Emitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultEmitterConfig().Interval
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
	}

	return &Emitter{
		signer:   cfg.Signer,
		sink:     cfg.Sink,
		clientID: cfg.ClientID,
		interval: interval,
		now:      now,
		logger:   logger.WithComponent("emitter"),
		metrics:  metrics.OrNop(cfg.Metrics),
	}, nil
}

// Run sends a heartbeat immediately and then every Interval until ctx ends
// or a heartbeat cannot be signed or sent. A signing failure ends the loop
// without sending anything for that tick.
func (e *Emitter) Run(ctx context.Context) error {
	if e.running.Swap(true) {
		return ErrAlreadyStarted
	}
	defer e.running.Store(false)

	if err := e.emit(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.emit(ctx); err != nil {
				return err
			}
		}
	}
}

// emit signs and sends one heartbeat.
func (e *Emitter) emit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ts := e.now()
	data, err := envelope.NewHeartbeat(ts).Marshal()
	if err != nil {
		return ferrors.Signing("encode heartbeat", ferrors.WithCause(err), ferrors.WithClientID(e.clientID))
	}

	wire, err := e.signer.Sign(data)
	if err != nil {
		e.metrics.RecordSignFailure("heartbeat")
		e.logger.Error("cannot sign heartbeat, closing connection", map[string]interface{}{
			"client_id": e.clientID,
			"error":     err.Error(),
		})
		if ferrors.AsCoded(err) == nil {
			return ferrors.Signing("sign heartbeat", ferrors.WithCause(err), ferrors.WithClientID(e.clientID))
		}
		return ferrors.Wrap(err, "sign heartbeat", ferrors.WithClientID(e.clientID))
	}

	if err := e.sink.Send(ctx, wire); err != nil {
		if ferrors.AsCoded(err) == nil {
			return ferrors.WrapWithCode(err, ferrors.ErrCodeSendFailed, "send heartbeat", ferrors.WithClientID(e.clientID))
		}
		return ferrors.Wrap(err, "send heartbeat", ferrors.WithClientID(e.clientID))
	}

	e.sent.Add(1)
	e.metrics.RecordHeartbeatSent()
	e.logger.HeartbeatSent(e.clientID, ts)
	return nil
}

// Sent returns the number of heartbeats written so far.
func (e *Emitter) Sent() uint64 {
	return e.sent.Load()
}
