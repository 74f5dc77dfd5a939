package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	providerCalls *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	breakerOpen   prometheus.Gauge
	queueDepth    prometheus.Gauge
	errorsTotal   *prometheus.CounterVec
	snapshotsSent *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		providerCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapull_provider_calls_total",
				Help: "Total outbound indicator provider calls",
			},
			[]string{"mode", "outcome"},
		),
		cacheLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapull_cache_lookups_total",
				Help: "Snapshot cache lookups",
			},
			[]string{"result"},
		),
		fallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapull_fallback_snapshots_total",
				Help: "Fallback snapshots issued, by reason",
			},
			[]string{"reason"},
		),
		breakerOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tapull_breaker_open",
				Help: "1 while the provider circuit breaker is open",
			},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tapull_queue_depth",
				Help: "Pending requests in the scheduler queue",
			},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		snapshotsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapull_snapshots_sent_total",
				Help: "Snapshots delivered to the downstream backend",
			},
			[]string{"backend", "symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tapull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordProviderCall records an outbound provider call outcome.
func (r *Recorder) RecordProviderCall(mode, outcome string) {
	r.providerCalls.WithLabelValues(mode, outcome).Inc()
}

// RecordCacheLookup records a snapshot cache hit or miss.
func (r *Recorder) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

// RecordFallback records a fallback snapshot by reason.
func (r *Recorder) RecordFallback(reason string) {
	r.fallbacks.WithLabelValues(reason).Inc()
}

// RecordBreakerOpen records circuit breaker state.
func (r *Recorder) RecordBreakerOpen(open bool) {
	if open {
		r.breakerOpen.Set(1)
		return
	}
	r.breakerOpen.Set(0)
}

// RecordQueueDepth records scheduler queue length.
func (r *Recorder) RecordQueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordSnapshotSent records a snapshot delivered downstream.
func (r *Recorder) RecordSnapshotSent(backend, symbol string) {
	r.snapshotsSent.WithLabelValues(backend, symbol).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
