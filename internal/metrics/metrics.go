package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_alerts_received_total",
		Help: "Total number of raw alerts received, labelled by intake path.",
	}, []string{"intake"})

	AlertsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_alerts_processed_total",
		Help: "Total number of alerts processed, labelled by outcome.",
	}, []string{"outcome"})

	AlertsByBucket = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_alerts_priority_total",
		Help: "Total number of scored alerts, labelled by priority bucket.",
	}, []string{"bucket"})

	ProviderDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_provider_degraded_total",
		Help: "Total number of provider calls replaced by a neutral value, labelled by provider and reason.",
	}, []string{"provider", "reason"})

	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aria_provider_duration_ms",
		Help:    "Scoring provider latency in milliseconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"provider"})

	RuleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_rule_errors_total",
		Help: "Total number of rule evaluations skipped because of an error.",
	})

	IncidentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_incidents_created_total",
		Help: "Total number of incidents opened.",
	})

	IncidentsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_incidents_closed_total",
		Help: "Total number of incidents closed after their window expired.",
	})

	IncidentsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aria_incidents_open",
		Help: "Current number of open incidents.",
	})

	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_invariant_violations_total",
		Help: "Total number of correlation invariant violations. Any non-zero value is a bug.",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aria_batch_duration_ms",
		Help:    "End-to-end batch processing latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aria_queue_utilization_ratio",
		Help: "Current scoring queue utilization (0–1).",
	})

	SinkWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_sink_writes_total",
		Help: "Total number of records written to sinks, labelled by sink, kind and status.",
	}, []string{"sink", "kind", "status"})

	SinkDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_sink_dropped_total",
		Help: "Total number of records dropped because the sink buffer was full.",
	})

	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_config_reloads_total",
		Help: "Total number of configuration reloads, labelled by status.",
	}, []string{"status"})
)
