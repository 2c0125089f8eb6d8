// Package metrics provides Prometheus instrumentation for the reliable queue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metric collectors for queues and workers.
type Metrics struct {
	ItemsCreated   *prometheus.CounterVec
	CreateFailures *prometheus.CounterVec
	ItemsClaimed   *prometheus.CounterVec
	EmptyClaims    *prometheus.CounterVec
	ItemsReleased  *prometheus.CounterVec
	ItemsDeleted   *prometheus.CounterVec
	ItemsReclaimed *prometheus.CounterVec
	MissingItems   *prometheus.CounterVec
	HandlerLatency *prometheus.HistogramVec
	QueueDepth     *prometheus.GaugeVec
	WorkerBusy     *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ItemsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_items_created_total",
			Help: "Total number of items created, partitioned by queue.",
		}, []string{"queue"}),

		CreateFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_create_failures_total",
			Help: "Total number of item creations reported as failed.",
		}, []string{"queue"}),

		ItemsClaimed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_items_claimed_total",
			Help: "Total number of successful claims.",
		}, []string{"queue"}),

		EmptyClaims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_empty_claims_total",
			Help: "Total number of claims that found no item.",
		}, []string{"queue"}),

		ItemsReleased: f.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_items_released_total",
			Help: "Total number of items voluntarily given back.",
		}, []string{"queue"}),

		ItemsDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_items_deleted_total",
			Help: "Total number of items acknowledged as done.",
		}, []string{"queue"}),

		ItemsReclaimed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_items_reclaimed_total",
			Help: "Total number of items returned to the queue after their lease expired.",
		}, []string{"queue"}),

		MissingItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_missing_items_total",
			Help: "Claims whose item data was missing from the item store.",
		}, []string{"queue"}),

		HandlerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_handler_latency_seconds",
			Help:    "Time spent by worker handlers per item.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"queue", "outcome"}),

		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of available plus claimed items.",
		}, []string{"queue"}),

		WorkerBusy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_worker_busy",
			Help: "Number of claim loops of the worker currently processing an item.",
		}, []string{"worker_id"}),
	}
}
