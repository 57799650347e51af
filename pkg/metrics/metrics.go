package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertTicks counts evaluator ticks by result (completed|deadline|error).
	AlertTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grochain_alert_ticks_total",
			Help: "Total number of price alert evaluation ticks",
		},
		[]string{"result"},
	)

	// AlertsEvaluated counts per-alert evaluations and their outcome (ok|triggered|error).
	AlertsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grochain_alerts_evaluated_total",
			Help: "Total number of individual alert evaluations",
		},
		[]string{"outcome"},
	)

	// Deliveries counts channel delivery attempts by channel and result (sent|failed).
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grochain_notification_deliveries_total",
			Help: "Total number of notification channel delivery attempts",
		},
		[]string{"channel", "result"},
	)

	// LiveConnections tracks currently registered websocket connections.
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grochain_live_connections",
			Help: "Number of registered live connections",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grochain_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
