package tensor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagger_buffer_pool_hits_total",
		Help: "Total number of scratch buffers reused from the pool",
	}, []string{"kind"})

	poolMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagger_buffer_pool_misses_total",
		Help: "Total number of scratch buffer allocations",
	}, []string{"kind"})
)
