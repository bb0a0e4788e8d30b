// Package bus carries out-of-band command requests to failsafe servers.
//
// Operators publish a JSON command request on a subject (by default
// failsafe.command). A server subscribes through inject.BusBridge, signs the
// command and broadcasts it to its clients. When the request carries a reply
// subject the dispatch summary is published back.
//
// # Implementations
//
//   - NATSBus: NATS, for fleets with several servers or remote operators
//   - MemoryBus: in process, for tests and single-binary setups
//
// # Patterns
//
// Fire and forget:
//
//	b.Publish(bus.DefaultCommandSubject, req)
//
// Request/Reply:
//
//	reply, err := b.Request(ctx, bus.DefaultCommandSubject, req)
//
// Subjects follow NATS rules. Subscriptions may use "*" for one token and
// ">" for the remaining tokens; publishers may not.
package bus
