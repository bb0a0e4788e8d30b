// Package client implements the failsafe client session.
//
// A Session holds one connection to the server and a heartbeat.Watchdog.
// Every inbound frame is verified, parsed and checked for freshness; only
// frames that pass all three advance the freshness clock. Rejected frames
// are logged and dropped.
//
// The session ends in one of three ways:
//
//   - A terminal condition (receive timeout, watchdog timeout, peer close,
//     transport error) runs the configured break commands exactly once.
//   - Context cancellation disarms the watchdog and returns ctx.Err().
//   - Stop disarms the watchdog and closes the connection.
//
// There is no reconnect. A dial failure also runs the break commands.
//
// Example:
//
//	verifier, _ := envelope.ParseVerifier(pubPEM)
//	c, _ := client.New(cfg, verifier, client.ExecutorFunc(handle))
//	err := c.Run(ctx)
package client
