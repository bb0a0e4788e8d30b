package client

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/vinayprograms/failsafe/envelope"
	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/heartbeat"
	"github.com/vinayprograms/failsafe/transport"
)

// Session is one armed connection to the server. It ends exactly once:
// by the failsafe, by Stop, or by context cancellation.
type Session struct {
	client   *Client
	conn     transport.Conn
	watchdog *heartbeat.Watchdog

	// failsafeCtx parents break commands. Set by Run before any goroutine
	// that can expire the watchdog is started.
	failsafeCtx context.Context

	// commands feeds the remote command worker. cancelCommands interrupts
	// the running command when the failsafe fires. Both are set by Run.
	commands       chan *envelope.Payload
	cancelCommands context.CancelFunc

	runOnce  sync.Once
	stopOnce sync.Once
}

// NewSession arms a session over an established connection.
func (c *Client) NewSession(conn transport.Conn) (*Session, error) {
	if conn == nil {
		return nil, ErrInvalidConfig
	}

	s := &Session{
		client:      c,
		conn:        conn,
		failsafeCtx: context.Background(),
	}

	wd, err := heartbeat.NewWatchdog(heartbeat.WatchdogConfig{
		Timeout:       c.config.FailsafeTimeout,
		CheckInterval: c.config.CheckInterval,
		OnExpire:      s.onExpire,
		Now:           c.now,
	})
	if err != nil {
		return nil, err
	}
	s.watchdog = wd
	return s, nil
}

// Conn returns the underlying transport.
func (s *Session) Conn() transport.Conn {
	return s.conn
}

// State returns the watchdog state.
func (s *Session) State() heartbeat.State {
	return s.watchdog.State()
}

// LastVerified returns the local time of the newest accepted message.
func (s *Session) LastVerified() time.Time {
	return s.watchdog.LastVerified()
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.watchdog.Done()
}

// Reason returns the terminal condition that ran the failsafe, or nil if the
// session was stopped or canceled.
func (s *Session) Reason() error {
	return s.watchdog.Reason()
}

// Stop ends the session without running the failsafe. It has no effect once
// the failsafe has started.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		if s.watchdog.Disarm() {
			s.client.logger.Info("session_stopped", map[string]interface{}{"conn": s.conn.ID()})
		}
		s.conn.Close()
	})
}

// ExecuteBreakCommands runs the configured break commands in order.
func (s *Session) ExecuteBreakCommands(ctx context.Context) {
	s.client.ExecuteBreakCommands(ctx)
}

// commandQueueSize bounds remote commands waiting behind a running one.
const commandQueueSize = 16

// Run drives the session until it ends. It returns ctx.Err() on
// cancellation, nil after Stop, and otherwise the terminal condition that
// ran the failsafe. Run may be called once.
//
// Remote commands run on a worker goroutine in arrival order, so heartbeats
// keep being verified while a command executes. Run returns after the
// running command has returned.
func (s *Session) Run(ctx context.Context) error {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return heartbeat.ErrAlreadyStarted
	}

	s.failsafeCtx = context.WithoutCancel(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmdCtx, cancelCommands := context.WithCancel(ctx)
	s.commands = make(chan *envelope.Payload, commandQueueSize)
	s.cancelCommands = cancelCommands
	var worker sync.WaitGroup
	worker.Add(1)
	go func() {
		defer worker.Done()
		s.runCommands(cmdCtx)
	}()
	defer worker.Wait()
	defer cancelCommands()

	go s.watchdog.Run(ctx)

	recvTimeout := s.client.config.RecvTimeout
	timer := time.NewTimer(recvTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.watchdog.Disarm() {
				s.conn.Close()
				return ctx.Err()
			}
			return s.finish()

		case <-s.watchdog.Done():
			return s.finish()

		case <-timer.C:
			s.watchdog.Expire(ferrors.TimeoutExpired("no message received within receive timeout",
				ferrors.WithMetadata("timeout", recvTimeout.String())))
			return s.finish()

		case data, ok := <-s.conn.Recv():
			if !ok {
				s.watchdog.Expire(s.closeReason())
				return s.finish()
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(recvTimeout)
			s.handle(data)
		}
	}
}

// finish waits for the winning transition to complete and releases the
// transport.
func (s *Session) finish() error {
	<-s.watchdog.Done()
	s.conn.Close()
	return s.watchdog.Reason()
}

func (s *Session) closeReason() error {
	err := s.conn.Err()
	if err == nil {
		return ferrors.New(ferrors.ErrCodePeerClosed, "connection closed")
	}
	if ferrors.AsCoded(err) == nil {
		return ferrors.WrapWithCode(err, ferrors.ErrCodeConnection, "transport failed")
	}
	return err
}

func (s *Session) onExpire(reason error) {
	if s.cancelCommands != nil {
		s.cancelCommands()
	}
	s.client.failsafe(s.failsafeCtx, reason)
}

// runCommands executes queued remote commands one at a time. It stops
// starting commands once the session has left the active state.
func (s *Session) runCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-s.commands:
			if ctx.Err() != nil || s.watchdog.State() != heartbeat.StateActive {
				return
			}
			// Failures are reported by execute and never end the session.
			_ = s.client.execute(ctx, "remote", p.Command, p.Args)
		}
	}
}

// handle verifies one inbound frame. Rejected frames are logged, counted and
// dropped without touching the freshness clock.
func (s *Session) handle(data []byte) {
	c := s.client

	verified, err := c.verifier.Verify(data)
	if err != nil {
		s.reject(err)
		return
	}

	payload, err := envelope.ParsePayload(verified.Payload)
	if err != nil {
		s.reject(err)
		return
	}

	now := c.now()
	if err := envelope.CheckFresh(payload, now, c.config.FreshnessWindow); err != nil {
		s.reject(ferrors.Wrap(err, "stale message", ferrors.WithMetadata("signer", verified.Signer)))
		return
	}

	if s.watchdog.State() != heartbeat.StateActive {
		return
	}
	s.watchdog.Touch(now)

	kind := "heartbeat"
	if payload.IsCommand() {
		kind = "command"
	}
	c.metrics.RecordMessageAccepted(kind)
	c.logger.MessageAccepted(verified.Signer, payload.Command)

	if payload.IsCommand() {
		s.enqueue(payload)
	}
}

// enqueue hands a verified command to the worker. A full queue drops the
// command rather than stalling heartbeat processing.
func (s *Session) enqueue(p *envelope.Payload) {
	select {
	case s.commands <- p:
	default:
		err := ferrors.CommandFailed(p.Command, ferrors.Internal("command queue full",
			ferrors.WithMetadata("capacity", strconv.Itoa(commandQueueSize))))
		s.client.logger.CommandFailed(p.Command, err)
		s.client.metrics.RecordCommandExecution("remote", false)
	}
}

func (s *Session) reject(err error) {
	reason := string(ferrors.Code(err))
	if reason == "" {
		reason = string(ferrors.ErrCodeVerification)
	}
	s.client.logger.MessageRejected(reason, err)
	s.client.metrics.RecordMessageRejected(reason)
}
