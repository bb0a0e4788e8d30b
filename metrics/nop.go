package metrics

// NopMetrics discards everything. Useful in tests and when metrics are
// collected elsewhere.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

// NewNop creates a no-op collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// OrNop returns c, or a no-op collector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return NewNop()
	}
	return c
}

func (n *NopMetrics) RecordHeartbeatSent() {}

func (n *NopMetrics) RecordSignFailure(_ /* kind */ string) {}

func (n *NopMetrics) RecordConnectionEvent(_ /* event */ string) {}

func (n *NopMetrics) SetConnectedClients(_ int) {}

func (n *NopMetrics) RecordDispatch(_ /* delivered */, _ /* failed */ int, _ /* duration */ float64) {}

func (n *NopMetrics) RecordMessageAccepted(_ /* kind */ string) {}

func (n *NopMetrics) RecordMessageRejected(_ /* reason */ string) {}

func (n *NopMetrics) RecordFailsafe(_ /* reason */ string) {}

func (n *NopMetrics) RecordCommandExecution(_ /* source */ string, _ /* success */ bool) {}
