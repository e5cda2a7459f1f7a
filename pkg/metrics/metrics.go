package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Capture metrics
	EventsCaptured = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trailcap_events_captured_total",
		Help: "Total number of audit events captured, by action",
	}, []string{"action"})

	// Delivery queue metrics
	EntriesEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trailcap_entries_enqueued_total",
		Help: "Total number of audit entries accepted into the delivery queue",
	})
	EnqueueRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trailcap_enqueue_rejected_total",
		Help: "Total number of enqueue calls rejected, by reason",
	}, []string{"reason"})
	QueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trailcap_queue_length",
		Help: "Current number of audit entries waiting in the delivery queue",
	})

	// Flush metrics. Labeled by sink name so multiple queues in one
	// process stay distinguishable.
	FlushDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trailcap_flush_duration_seconds",
		Help:    "Duration of batch writes to the sink",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})
	FlushErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trailcap_flush_errors_total",
		Help: "Total number of batch writes that failed",
	}, []string{"sink"})
	EntriesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trailcap_entries_delivered_total",
		Help: "Total number of audit entries acknowledged by the sink",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(EventsCaptured)
	prometheus.MustRegister(EntriesEnqueued)
	prometheus.MustRegister(EnqueueRejected)
	prometheus.MustRegister(QueueLength)
	prometheus.MustRegister(FlushDuration)
	prometheus.MustRegister(FlushErrors)
	prometheus.MustRegister(EntriesDelivered)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
