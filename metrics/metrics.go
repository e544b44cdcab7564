package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Matrix Metrics
// =============================================================================

var (
	// CellsComputedTotal counts matrix cells by strategy and outcome
	CellsComputedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcompare_cells_computed_total",
			Help: "Total number of matrix cells computed",
		},
		[]string{"strategy", "outcome"}, // outcome: ok, failed
	)

	// MatrixDurationSeconds tracks full matrix computation time
	MatrixDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgcompare_matrix_duration_seconds",
			Help:    "Duration of matrix computations",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"strategy"},
	)

	// MatrixIncompleteTotal counts matrices stopped by cancellation
	MatrixIncompleteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcompare_matrix_incomplete_total",
			Help: "Total number of matrix computations cancelled before completion",
		},
		[]string{"strategy"},
	)
)

// =============================================================================
// Hash Metrics
// =============================================================================

var (
	HashFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcompare_hash_failures_total",
			Help: "Total number of images that could not be hashed",
		},
		[]string{"strategy"},
	)
)

// =============================================================================
// Retrieval Metrics
// =============================================================================

var (
	DescriptorsIndexedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgcompare_descriptors_indexed_total",
			Help: "Total number of descriptors appended to retrieval indexes",
		},
	)

	ExtractionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgcompare_extraction_failures_total",
			Help: "Total number of images without usable descriptors",
		},
	)

	// RetrievalQueriesTotal counts queries by outcome: match, no_match, error
	RetrievalQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcompare_retrieval_queries_total",
			Help: "Total number of nearest-image queries",
		},
		[]string{"outcome"},
	)
)

// =============================================================================
// Loader Metrics
// =============================================================================

var (
	ImagesLoadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcompare_images_loaded_total",
			Help: "Total number of images loaded by outcome",
		},
		[]string{"outcome"},
	)
)
