// Package server implements the failsafe heartbeat server.
//
// Each accepted connection is registered under its client ID and gets its
// own heartbeat.Emitter. A connection handler ends when its emitter fails
// or the peer goes away, and removes its registry entry only if a newer
// connection has not taken the ID over.
//
// SendCommand signs a command once and writes the same bytes to one client
// or to all of them. Per-target send failures are reported in the
// DispatchResult; they never abort delivery to other targets.
package server
