// Package errors provides the structured error taxonomy shared by the
// failsafe server and client.
//
// # Error Categories
//
//   - Transient: one message or one send failed; the session goes on
//   - Terminal: the session or connection ends (and on a client, the
//     failsafe runs)
//   - Permanent: caller mistakes such as unknown clients or bad input
//   - Internal: unexpected failures and unusable key material
//
// # Usage
//
//	err := errors.New(errors.ErrCodeStale, "heartbeat too old",
//	    errors.WithClientID("edge-7"))
//
//	if errors.Code(err).IsRejection() {
//	    // drop the message, keep the session
//	}
//
// Errors serialize to JSON so the command injection endpoints can return
// them to callers unchanged.
package errors
