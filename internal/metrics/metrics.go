// Package metrics defines the Prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchRequests counts searches by outcome (hit, miss, no_face, error).
	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facefinder_search_requests_total",
		Help: "Face searches by outcome",
	}, []string{"outcome"})

	// SearchDuration observes the time spent computing a search on cache miss.
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facefinder_search_duration_seconds",
		Help:    "Time spent scoring and ranking candidates",
		Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// CandidatesScored counts stored embeddings compared against a probe.
	CandidatesScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facefinder_embeddings_scored_total",
		Help: "Stored embeddings compared against a probe",
	})

	// DimensionMismatches counts skipped comparisons with mismatched dimensionality.
	DimensionMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facefinder_dimension_mismatches_total",
		Help: "Comparisons skipped because of mismatched embedding dimensions",
	})

	// CacheOperations counts cache lookups and writes by operation and result.
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facefinder_cache_operations_total",
		Help: "Search cache operations",
	}, []string{"operation", "result"})

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "facefinder_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})

	// Admissions counts ingested images by outcome.
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facefinder_admissions_total",
		Help: "Image admissions by outcome",
	}, []string{"outcome"})

	// Evictions counts retention evictions by result (success, failure).
	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facefinder_evictions_total",
		Help: "Records evicted by the retention manager",
	}, []string{"result"})

	// RetentionOvershoot is how far above the ceiling the store was after the last admission.
	RetentionOvershoot = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facefinder_retention_overshoot",
		Help: "Records above the retention ceiling after the last admission",
	})

	// Records is the record count observed by the last admission.
	Records = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facefinder_records",
		Help: "Image records in the metadata store",
	})
)
