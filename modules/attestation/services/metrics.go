package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attestationRequestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attestation",
		Subsystem: "requests",
		Name:      "created_total",
		Help:      "Total number of attestation requests created.",
	})

	attestationRequestsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attestation",
		Subsystem: "requests",
		Name:      "finished_total",
		Help:      "Total number of attestation requests that reached a terminal status.",
	}, []string{"status"})

	attestationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attestation",
		Subsystem: "decisions",
		Name:      "recorded_total",
		Help:      "Total number of recorded decisions broken down by tier, decision and source.",
	}, []string{"tier", "decision", "source"})

	attestationSideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attestation",
		Subsystem: "side_effects",
		Name:      "failures_total",
		Help:      "Total number of notification and document failures.",
	}, []string{"kind"})

	attestationReminders = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attestation",
		Subsystem: "reminders",
		Name:      "sent_total",
		Help:      "Total number of reminder notifications sent.",
	})

	attestationStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attestation",
		Subsystem: "workflow",
		Name:      "step_duration_seconds",
		Help:      "Duration of workflow steps broken down by operation and result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "result"})
)

func recordDecision(tier, decision string, automatic bool) {
	source := "manual"
	if automatic {
		source = "automatic"
	}
	attestationDecisions.WithLabelValues(tier, decision, source).Inc()
}

func recordSideEffectFailure(kind string) {
	if kind == "" {
		kind = "other"
	}
	attestationSideEffectFailures.WithLabelValues(kind).Inc()
}

func recordStep(operation string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	attestationStepDuration.WithLabelValues(operation, result).Observe(seconds)
}
