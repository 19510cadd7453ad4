package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch kinds and outcomes used as metric labels.
const (
	FetchKindItem     = "item"
	FetchKindMetadata = "metadata"

	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeCached  = "cached"
)

var (
	metricFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidebar",
		Name:      "fetches_total",
		Help:      "Sidebar fetches by kind and outcome.",
	}, []string{"kind", "outcome"})
	metricFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sidebar",
		Name:      "fetch_duration_seconds",
		Help:      "Latency of sidebar fetches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})
	metricDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidebar",
		Name:      "stale_results_discarded_total",
		Help:      "Fetch results dropped because the target changed or the sidebar unmounted.",
	}, []string{"kind"})
	metricMounted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sidebar",
		Name:      "mounted",
		Help:      "Number of currently mounted sidebars.",
	})
	metricEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sidebar",
		Name:      "telemetry_events_dropped_total",
		Help:      "Telemetry events not delivered because a subscriber was full.",
	})
	metricTransportRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidebar",
		Name:      "transport_requests_total",
		Help:      "HTTP requests issued by the transport client by status class.",
	}, []string{"status"})
)

// RecordFetch counts a fetch and observes its latency.
func RecordFetch(kind, outcome string, duration time.Duration) {
	metricFetches.WithLabelValues(kind, outcome).Inc()
	if outcome != OutcomeCached {
		metricFetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordDiscarded counts a result dropped by the race guard.
func RecordDiscarded(kind string) {
	metricDiscarded.WithLabelValues(kind).Inc()
}

// RecordMounted adjusts the mounted-sidebars gauge.
func RecordMounted(delta int) {
	metricMounted.Add(float64(delta))
}

// RecordTransportRequest counts one HTTP round trip by status class
// ("2xx", "4xx", "5xx" or "error").
func RecordTransportRequest(status string) {
	metricTransportRequests.WithLabelValues(status).Inc()
}

// RecordEventDropped counts one undelivered hub event.
func RecordEventDropped() {
	metricEventsDropped.Inc()
}
