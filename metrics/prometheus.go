package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	heartbeatsSent   prometheus.Counter
	signFailures     *prometheus.CounterVec
	connectionEvents *prometheus.CounterVec
	connectedClients prometheus.Gauge
	dispatches       prometheus.Counter
	dispatchTargets  *prometheus.CounterVec
	dispatchLatency  prometheus.Histogram

	messagesAccepted *prometheus.CounterVec
	messagesRejected *prometheus.CounterVec
	failsafes        *prometheus.CounterVec
	commandRuns      *prometheus.CounterVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed collector.
//
// Parameters:
//   - reg: registerer (prometheus.DefaultRegisterer if nil)
//   - namespace: metric namespace ("failsafe" if empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "failsafe"
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.heartbeatsSent = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "server",
			Name:      "heartbeats_sent_total",
			Help:      "Signed heartbeats written to clients.",
		})
		p.signFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "server",
			Name:      "sign_failures_total",
			Help:      "Payloads that could not be signed, by kind (heartbeat,command).",
		}, []string{"kind"})
		p.connectionEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "server",
			Name:      "connection_events_total",
			Help:      "Registry changes by event (added,replaced,removed).",
		}, []string{"event"})
		p.connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "server",
			Name:      "connected_clients",
			Help:      "Clients currently in the registry.",
		})
		p.dispatches = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "server",
			Name:      "dispatches_total",
			Help:      "Command dispatch calls that produced a signed envelope.",
		})
		p.dispatchTargets = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "server",
			Name:      "dispatch_targets_total",
			Help:      "Per-target dispatch outcomes (delivered,failed).",
		}, []string{"result"})
		p.dispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "server",
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent signing and sending one command.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		})

		p.messagesAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "client",
			Name:      "messages_accepted_total",
			Help:      "Verified fresh messages by kind (heartbeat,command).",
		}, []string{"kind"})
		p.messagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "client",
			Name:      "messages_rejected_total",
			Help:      "Dropped messages by rejection code.",
		}, []string{"reason"})
		p.failsafes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "client",
			Name:      "failsafe_total",
			Help:      "Failsafe executions by terminal condition.",
		}, []string{"reason"})
		p.commandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "client",
			Name:      "command_executions_total",
			Help:      "Commands handed to the executor by source (remote,break) and result.",
		}, []string{"source", "result"})

		p.reg.MustRegister(
			p.heartbeatsSent,
			p.signFailures,
			p.connectionEvents,
			p.connectedClients,
			p.dispatches,
			p.dispatchTargets,
			p.dispatchLatency,
			p.messagesAccepted,
			p.messagesRejected,
			p.failsafes,
			p.commandRuns,
		)
	})
}

func (p *PrometheusCollector) RecordHeartbeatSent() {
	p.ensureRegistered()
	p.heartbeatsSent.Inc()
}

func (p *PrometheusCollector) RecordSignFailure(kind string) {
	p.ensureRegistered()
	p.signFailures.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RecordConnectionEvent(event string) {
	p.ensureRegistered()
	p.connectionEvents.WithLabelValues(event).Inc()
}

func (p *PrometheusCollector) SetConnectedClients(n int) {
	p.ensureRegistered()
	p.connectedClients.Set(float64(n))
}

func (p *PrometheusCollector) RecordDispatch(delivered, failed int, duration float64) {
	p.ensureRegistered()
	p.dispatches.Inc()
	p.dispatchTargets.WithLabelValues("delivered").Add(float64(delivered))
	p.dispatchTargets.WithLabelValues("failed").Add(float64(failed))
	p.dispatchLatency.Observe(duration)
}

func (p *PrometheusCollector) RecordMessageAccepted(kind string) {
	p.ensureRegistered()
	p.messagesAccepted.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RecordMessageRejected(reason string) {
	p.ensureRegistered()
	p.messagesRejected.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordFailsafe(reason string) {
	p.ensureRegistered()
	p.failsafes.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordCommandExecution(source string, success bool) {
	p.ensureRegistered()
	result := "success"
	if !success {
		result = "failure"
	}
	p.commandRuns.WithLabelValues(source, result).Inc()
}
