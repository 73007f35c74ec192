package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otx_pages_fetched_total",
			Help: "Pages successfully fetched from the pulses API",
		},
	)

	FetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otx_fetch_retries_total",
			Help: "Retry attempts made by the fetch client",
		},
	)

	HTTPResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otx_http_responses_total",
			Help: "API responses by status code (or transport_error)",
		},
		[]string{"code"},
	)

	PulsesUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otx_pulses_upserted_total",
			Help: "Pulse documents upserted into the store",
		},
	)

	PulsesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otx_pulses_skipped_total",
			Help: "Pulses skipped before load",
		},
		[]string{"reason"}, // malformed | duplicate
	)

	LoadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otx_load_failures_total",
			Help: "Per-record upsert failures",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "otx_run_duration_seconds",
			Help:    "Wall time of one incremental run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otx_runs_total",
			Help: "Completed runs by outcome",
		},
		[]string{"outcome"}, // done | failed
	)
)
