package tagger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tagger_decode_batch_duration_seconds",
		Help:    "Time spent decoding one internal batch, cache lookups included",
		Buckets: prometheus.DefBuckets,
	})

	sequencesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagger_sequences_decoded_total",
		Help: "Total number of sequences decoded",
	})

	tokensDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagger_tokens_decoded_total",
		Help: "Total number of tokens decoded",
	})

	cacheServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagger_sequences_from_cache_total",
		Help: "Total number of sequences answered from the path cache",
	})
)
