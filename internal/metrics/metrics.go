// Package metrics holds the process's Prometheus collectors: HTTP RED
// metrics plus the aggregator-specific gauges and counters the flush and
// cache components report against.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "activity_aggregator"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size",
			Help:      "Number of distinct (user_id, event_type) keys currently held in the aggregation cache.",
		},
	)

	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Total number of flush cycles, labelled by outcome.",
		},
		[]string{"outcome"}, // ok, noop, error
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of a flush cycle's store round-trip.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	FlushedKeysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_keys_total",
			Help:      "Total number of (user_id, event_type) keys drained across all flushes.",
		},
	)

	EventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Total number of broker records consumed, labelled by outcome.",
		},
		[]string{"outcome"}, // accepted, malformed
	)
)
