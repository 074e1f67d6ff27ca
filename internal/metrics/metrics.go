package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_events_dispatched_total",
			Help: "Total number of events accepted by the dispatcher.",
		},
		[]string{"tenant_id"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"outcome"}, // delivered, retrying, failed, already_delivered
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, http_4xx, timeout, network
	)

	FilteredEndpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_filtered_endpoints_total",
			Help: "Total number of endpoints silently excluded by resource filters.",
		},
		[]string{"tenant_id"},
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookrelay_delivery_latency_seconds",
			Help:    "Latency of outbound webhook HTTP calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	ReconcilerSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_reconciler_sweeps_total",
			Help: "Total number of stuck-delivery reconciler sweeps.",
		},
	)

	ReconcilerRequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_reconciler_requeued_total",
			Help: "Total number of stuck deliveries re-enqueued by the reconciler.",
		},
	)

	ReconcilerFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_reconciler_failed_total",
			Help: "Total number of stuck deliveries terminally failed by the reconciler.",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookrelay_queue_depth",
			Help: "Current depth of the delivery queue by topic and channel.",
		},
		[]string{"topic", "channel"},
	)
)

// MustRegister registers all hookrelay collectors on the given registry.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsDispatchedTotal,
		DeliveriesTotal,
		RetriesTotal,
		FilteredEndpointsTotal,
		DeliveryLatency,
		ReconcilerSweepsTotal,
		ReconcilerRequeuedTotal,
		ReconcilerFailedTotal,
		QueueDepth,
	)
}

// RecordDispatch increments the dispatched-events counter for a tenant.
func RecordDispatch(tenantID string) {
	EventsDispatchedTotal.WithLabelValues(tenantID).Inc()
}

// RecordFiltered increments the silent-filter-exclusion counter for a tenant.
func RecordFiltered(tenantID string) {
	FilteredEndpointsTotal.WithLabelValues(tenantID).Inc()
}

// RecordAttempt records the outcome of one delivery attempt and, when the
// attempt reached the network, its latency.
func RecordAttempt(outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(outcome).Inc()
	if latency > 0 {
		DeliveryLatency.WithLabelValues(outcome).Observe(latency.Seconds())
	}
}

// RecordRetry increments the retry counter for a failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// UpdateQueueDepth sets the queue depth gauge for a topic/channel pair.
func UpdateQueueDepth(topic, channel string, depth float64) {
	QueueDepth.WithLabelValues(topic, channel).Set(depth)
}
