// Package heartbeat implements both ends of the liveness signal.
//
// # Overview
//
// The server runs one Emitter per connection. Every Interval it signs a
// payload carrying only the current timestamp and writes it to the
// connection. The client runs one Watchdog per session. Each verified,
// fresh message moves the watchdog's clock forward; if the clock falls
// more than Timeout behind, the watchdog expires and runs the failsafe.
//
//	┌─────────────┐   signed {timestamp}   ┌─────────────┐
//	│   Emitter   │ ─────────────────────> │  Watchdog   │
//	│  (server)   │       every 5s         │  (client)   │
//	└─────────────┘                        └─────────────┘
//
// # Exactly-once expiry
//
// Two paths can see an expired deadline: the watchdog's own ticker and the
// client session's bounded receive. Both call Expire. The watchdog state is
// a single atomic value moving Active → Expiring → Expired; only the call
// that wins the first compare-and-swap runs OnExpire. Disarm moves Active
// straight to Expired for an orderly stop that must not trigger the
// failsafe.
//
// # Usage
//
// Server side, per accepted connection:
//
//	em, _ := heartbeat.NewEmitter(heartbeat.EmitterConfig{
//	    Signer:   signer,
//	    Sink:     conn,
//	    ClientID: clientID,
//	})
//	err := em.Run(ctx) // returns on sign/send failure or ctx end
//
// Client side:
//
//	wd, _ := heartbeat.NewWatchdog(heartbeat.WatchdogConfig{
//	    Timeout:  15 * time.Second,
//	    OnExpire: func(reason error) { runBreakCommands(reason) },
//	})
//	go wd.Run(ctx)
//	// on each verified fresh message:
//	wd.Touch(time.Now())
//
// # Recommendations
//
//   - Keep Timeout a small multiple (2-3x) of the server Interval
//   - Keep CheckInterval at or below Interval
//   - OnExpire must not block forever; Done is closed only after it returns
package heartbeat
