package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagger_path_cache_hits_total",
		Help: "Total number of decoded path cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagger_path_cache_misses_total",
		Help: "Total number of decoded path cache misses",
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagger_path_cache_evictions_total",
		Help: "Total number of entries evicted from the path cache",
	})

	cacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tagger_path_cache_entries",
		Help: "Number of entries in the most recently written path cache",
	})
)
