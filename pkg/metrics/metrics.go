package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll loop, webhook and API collectors, partitioned by token + network where it applies.

var (
	// HTTP API
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests served",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tracker",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Poll loop
	PollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Total poll cycles by outcome (ok, fetch_error, finalized, store_error)",
	}, []string{"token", "network", "outcome"})

	PollCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tracker",
		Subsystem: "poller",
		Name:      "cycle_duration_seconds",
		Help:      "Poll cycle duration including the chain API call",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"token", "network"})

	TransfersFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "poller",
		Name:      "transfers_fetched_total",
		Help:      "Total transfers returned by chain APIs",
	}, []string{"token", "network"})

	TransactionsStoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "poller",
		Name:      "transactions_stored_total",
		Help:      "Total new transactions persisted",
	}, []string{"token", "network", "type"})

	// Webhooks
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total webhook delivery attempts by status",
	}, []string{"status"})

	WebhookDeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tracker",
		Subsystem: "webhook",
		Name:      "delivery_duration_seconds",
		Help:      "Webhook POST latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// Scheduling
	ScheduleReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "scheduler",
		Name:      "reconciled_total",
		Help:      "Rows touched by the reconciliation sweep by action (cleaned, restarted, resumed, webhooks_requeued)",
	}, []string{"action"})

	QueuePendingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracker",
		Subsystem: "queue",
		Name:      "pending_jobs",
		Help:      "Jobs scheduled but not yet due",
	})

	// Database
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tracker",
		Subsystem: "db",
		Name:      "connections",
		Help:      "Database connections by state",
	}, []string{"state"})
)
