package outbox

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "attestation"
const metricsSubsystem = "outbox"

type metrics struct {
	enqueueTotal  *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
	deadTotal     *prometheus.CounterVec
	cleanedTotal  *prometheus.CounterVec

	dispatchLatency *prometheus.HistogramVec

	pending     *prometheus.GaugeVec
	locked      *prometheus.GaugeVec
	relayLeader *prometheus.GaugeVec
}

var getMetrics = sync.OnceValue(func() *metrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}, []string{"table"})
	}
	return &metrics{
		enqueueTotal:  counter("enqueue_total", "Outbox messages enqueued.", "table", "topic"),
		dispatchTotal: counter("dispatch_total", "Outbox dispatch attempts by result.", "table", "topic", "result"),
		deadTotal:     counter("dead_total", "Outbox messages that exhausted their attempts.", "table", "topic"),
		cleanedTotal:  counter("cleaned_total", "Outbox rows removed by the cleaner.", "table", "kind"),
		dispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dispatch_latency_seconds",
			Help:      "Outbox dispatch latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"table", "topic", "result"}),
		pending:     gauge("pending", "Unpublished outbox messages."),
		locked:      gauge("locked", "Unpublished outbox messages currently claimed by a relay."),
		relayLeader: gauge("relay_leader", "Whether this instance holds the relay leader lock (1/0)."),
	}
})
