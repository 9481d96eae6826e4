package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pool metrics
	Materializations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fdpool_materializations_total",
			Help: "Total number of real OS opens performed on behalf of pooled handles",
		},
		[]string{"result"}, // result can be "ok" or "error"
	)

	MaterializeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fdpool_materialize_latency_seconds",
			Help:    "Latency of materializing a closed handle, evictions included, in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fdpool_materialize_cache_hits_total",
			Help: "Total number of materialize calls served by an already open descriptor",
		},
	)

	Evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fdpool_evictions_total",
			Help: "Total number of descriptors closed to stay within pool capacity",
		},
	)

	OpenDescriptors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fdpool_open_descriptors",
			Help: "Number of OS descriptors currently held by all pools",
		},
	)

	RegisteredHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fdpool_registered_handles",
			Help: "Number of handles currently registered across all pools",
		},
	)

	// Bench metrics
	LineReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fdpool_bench_line_reads_total",
			Help: "Total number of random line reads performed by the bench",
		},
		[]string{"result"}, // result can be "ok", "mismatch" or "error"
	)

	LineReadLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fdpool_bench_line_read_latency_seconds",
			Help:    "Latency of reading one random line through a pooled handle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
