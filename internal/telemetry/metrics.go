package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the component health gauges spec.md §6 names as the
// metrics/health endpoint's required interface: queue depths, durable-store
// reachability, and the CASIL error counter. The HTTP exporter route itself
// is out of scope; this only registers the instruments so an external
// collaborator can scrape them.
type Metrics struct {
	SessionsActive    prometheus.Gauge
	SendQueueDepth    prometheus.Histogram
	EnqueueDropped    *prometheus.CounterVec
	CASILDecisions    *prometheus.CounterVec
	CASILErrors       prometheus.Counter
	HistoryAppendFail *prometheus.CounterVec
	DurableBackendUp  prometheus.Gauge
}

// NewMetrics registers all instruments against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test binaries.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arqonbus",
			Subsystem: "registry",
			Name:      "sessions_active",
			Help:      "Number of live client sessions.",
		}),
		SendQueueDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arqonbus",
			Subsystem: "registry",
			Name:      "send_queue_depth",
			Help:      "Observed outbound send-queue depth at enqueue time.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		EnqueueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arqonbus",
			Subsystem: "registry",
			Name:      "enqueue_dropped_total",
			Help:      "Envelopes dropped due to saturated send queues, by envelope type.",
		}, []string{"envelope_type"}),
		CASILDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arqonbus",
			Subsystem: "casil",
			Name:      "decisions_total",
			Help:      "CASIL outcomes by decision and reason code.",
		}, []string{"decision", "reason_code"}),
		CASILErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arqonbus",
			Subsystem: "casil",
			Name:      "internal_errors_total",
			Help:      "CASIL internal errors (panics/recovered exceptions in the inspection pipeline).",
		}),
		HistoryAppendFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arqonbus",
			Subsystem: "history",
			Name:      "append_failures_total",
			Help:      "Failed history append attempts by backend.",
		}, []string{"backend"}),
		DurableBackendUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arqonbus",
			Subsystem: "history",
			Name:      "durable_backend_up",
			Help:      "1 if the durable history backend is reachable, 0 if degraded to in-memory.",
		}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.SendQueueDepth,
		m.EnqueueDropped,
		m.CASILDecisions,
		m.CASILErrors,
		m.HistoryAppendFail,
		m.DurableBackendUp,
	)
	m.DurableBackendUp.Set(1)
	return m
}
