package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

// Watchdog owns a client session's freshness clock and its one-shot
// failsafe transition.
//
// Two paths may observe an expired deadline at the same time: the periodic
// checker in Run and the session's receive timeout. Both call Expire; the
// state CAS lets exactly one of them run OnExpire.
type Watchdog struct {
	timeout       time.Duration
	checkInterval time.Duration
	onExpire      func(error)
	now           func() time.Time

	lastVerified atomic.Int64 // unix nanos, forward-only
	state        atomic.Int32

	mu     sync.Mutex
	reason error

	done chan struct{}
}

// NewWatchdog creates an armed watchdog. The freshness clock starts at
// construction time.
func NewWatchdog(cfg WatchdogConfig) (*Watchdog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultWatchdogConfig().Timeout
	}

	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultWatchdogConfig().CheckInterval
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	w := &Watchdog{
		timeout:       timeout,
		checkInterval: checkInterval,
		onExpire:      cfg.OnExpire,
		now:           now,
		done:          make(chan struct{}),
	}
	w.lastVerified.Store(now().UnixNano())
	return w, nil
}

// Touch records a verified message at t. Older times are ignored so the
// clock never moves backwards. Reports whether the clock advanced.
func (w *Watchdog) Touch(t time.Time) bool {
	next := t.UnixNano()
	for {
		cur := w.lastVerified.Load()
		if next <= cur {
			return false
		}
		if w.lastVerified.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// LastVerified returns the time of the newest verified message.
func (w *Watchdog) LastVerified() time.Time {
	return time.Unix(0, w.lastVerified.Load())
}

// Overdue reports whether more than Timeout has passed since the last
// verified message.
func (w *Watchdog) Overdue() bool {
	return w.now().Sub(w.LastVerified()) > w.timeout
}

// Timeout returns the configured failsafe timeout.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Run checks the clock every CheckInterval and expires the watchdog when it
// is overdue. It returns when the watchdog leaves Active or ctx ends.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			if w.State() != StateActive {
				return
			}
			if w.Overdue() {
				w.Expire(ferrors.TimeoutExpired("no verified message within failsafe timeout",
					ferrors.WithMetadata("timeout", w.timeout.String()),
					ferrors.WithMetadata("last_verified", w.LastVerified().UTC().Format(time.RFC3339Nano)),
				))
				return
			}
		}
	}
}

// Expire attempts the Active to Expiring transition. The winner records
// reason, runs OnExpire, then marks the watchdog Expired and closes Done.
// Every other caller returns false immediately.
func (w *Watchdog) Expire(reason error) bool {
	if !w.state.CompareAndSwap(int32(StateActive), int32(StateExpiring)) {
		return false
	}

	w.mu.Lock()
	w.reason = reason
	w.mu.Unlock()

	defer func() {
		w.state.Store(int32(StateExpired))
		close(w.done)
	}()
	if w.onExpire != nil {
		w.onExpire(reason)
	}
	return true
}

// Disarm moves an Active watchdog straight to Expired without running the
// failsafe. Used for explicit stop and context cancellation.
func (w *Watchdog) Disarm() bool {
	if !w.state.CompareAndSwap(int32(StateActive), int32(StateExpired)) {
		return false
	}
	close(w.done)
	return true
}

// State returns the current lifecycle state.
func (w *Watchdog) State() State {
	return State(w.state.Load())
}

// Done is closed once the watchdog reaches Expired.
func (w *Watchdog) Done() <-chan struct{} {
	return w.done
}

// Reason returns the error passed to the winning Expire, or nil.
func (w *Watchdog) Reason() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}
