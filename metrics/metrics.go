// Package metrics records protocol counters for the failsafe server and
// client.
//
// Components accept a Collector and default to Nop. The Prometheus
// collector registers its series lazily on first use.
package metrics

// Collector records operational metrics. Implementations must be safe for
// concurrent use and must never block the caller.
type Collector interface {
	ServerMetrics
	ClientMetrics
}

// ServerMetrics covers the emitter, registry and dispatcher.
type ServerMetrics interface {
	// RecordHeartbeatSent counts a signed heartbeat written to a client.
	RecordHeartbeatSent()

	// RecordSignFailure counts a payload the server could not sign.
	//
	// Parameters:
	//   - kind: "heartbeat" or "command"
	RecordSignFailure(kind string)

	// RecordConnectionEvent counts registry changes.
	//
	// Parameters:
	//   - event: "added", "replaced" or "removed"
	RecordConnectionEvent(event string)

	// SetConnectedClients sets the number of registered clients.
	SetConnectedClients(n int)

	// RecordDispatch records one command dispatch.
	//
	// Parameters:
	//   - delivered: targets the envelope was written to
	//   - failed: targets whose send failed
	//   - duration: seconds spent in the dispatch call
	RecordDispatch(delivered, failed int, duration float64)
}

// ClientMetrics covers the client session.
type ClientMetrics interface {
	// RecordMessageAccepted counts a verified, fresh message.
	//
	// Parameters:
	//   - kind: "heartbeat" or "command"
	RecordMessageAccepted(kind string)

	// RecordMessageRejected counts a dropped message.
	//
	// Parameters:
	//   - reason: error code of the rejection
	RecordMessageRejected(reason string)

	// RecordFailsafe counts a failsafe execution.
	//
	// Parameters:
	//   - reason: error code of the terminal condition
	RecordFailsafe(reason string)

	// RecordCommandExecution counts a command handed to the executor.
	//
	// Parameters:
	//   - source: "remote" or "break"
	//   - success: whether the executor returned nil
	RecordCommandExecution(source string, success bool)
}
