// Package observability holds the Prometheus collectors shared by all components.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	upstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_attempts_total",
			Help: "Upstream request attempts by outcome (ok, retry, fail).",
		},
		[]string{"upstream", "outcome"},
	)

	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Latency of key-value store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Record reads by record type and outcome (hit, miss, stale, corrupt).",
		},
		[]string{"record", "outcome"},
	)

	datasetResolves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_requests_total",
			Help: "Dataset fetch requests by cache status.",
		},
		[]string{"status"},
	)

	datasetPagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dataset_pages_fetched_total",
			Help: "Upstream pages fetched while resolving datasets.",
		},
	)

	queryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "query_duration_seconds",
			Help:    "Query evaluation latency by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"outcome"},
	)

	invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_invalidations_total",
			Help: "Invalidation events applied by outcome.",
		},
		[]string{"outcome"},
	)

	kafkaConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version", "dataset_version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncUpstreamAttempt(upstream, outcome string) {
	upstreamAttempts.WithLabelValues(upstream, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpDurationSeconds.WithLabelValues(op, outcome).Observe(durationSeconds)
}

func IncCacheResult(record, outcome string) {
	cacheResults.WithLabelValues(record, outcome).Inc()
}

func IncDatasetRequest(status string) {
	datasetResolves.WithLabelValues(status).Inc()
}

func AddPagesFetched(n int) {
	if n > 0 {
		datasetPagesFetched.Add(float64(n))
	}
}

func ObserveQuery(err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	queryDurationSeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

func IncInvalidation(outcome string) {
	invalidations.WithLabelValues(outcome).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version, datasetVersion string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version, datasetVersion).Set(1)
}
