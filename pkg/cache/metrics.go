package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks entries found in Redis
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "import_cache_hits_total",
			Help: "Total number of cache entries found",
		},
	)

	// CacheMisses tracks entries not found
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "import_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// NotModifiedResponses tracks 304 responses answered from an entry
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "import_cache_not_modified_total",
			Help: "Total number of 304 Not Modified responses served from cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "touch"
	)
)
