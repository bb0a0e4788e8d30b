// Package registry tracks which clients are connected to the failsafe
// server.
//
// # Overview
//
// Each accepted connection registers under its client ID (taken from the
// X-Client-ID header, or the peer address). IDs are not unique: a second
// connection with the same ID replaces the first entry, and the first
// connection is left open until its own handler notices it has ended.
//
// # Conditional removal
//
// Handlers deregister with the handle they registered. Removal compares
// connection IDs, so a late disconnect from a replaced connection cannot
// evict the live one:
//
//	reg.Register("laptop", conn1)
//	reg.Register("laptop", conn2)   // replaces
//	reg.Deregister("laptop", conn1) // false, laptop → conn2 remains
//
// # Dispatch snapshots
//
// Targets copies the matching entries under the read lock. A dispatcher
// iterates the copy, so a client that disconnects mid-dispatch shows up as
// a send failure on that target only.
//
// # Events
//
// Watch returns a buffered channel of added, replaced and removed events.
// Slow watchers drop events rather than block registration.
package registry
