package importer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the import engine.
var (
	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_batches_total",
			Help: "Total number of DriveBatch calls by result",
		},
		[]string{"result"}, // "processed", "paused", "completed", "failed", "noop"
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_items_total",
			Help: "Total number of processed candidates by outcome",
		},
		[]string{"outcome"}, // "imported", "merged", "skipped", "error"
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_transitions_total",
			Help: "Total number of job state transitions by target state",
		},
		[]string{"to"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "import_batch_duration_seconds",
			Help:    "Duration of DriveBatch calls",
			Buckets: prometheus.DefBuckets,
		},
	)
)
