package crf

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallDuration tracks time spent in each recursion.
	CallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tagger_crf_call_duration_seconds",
		Help:    "Time spent in CRF forward, gold scoring and Viterbi calls",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"op"})

	sequencesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagger_crf_sequences_total",
		Help: "Total number of sequences processed by the CRF",
	}, []string{"op"})

	stepsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagger_crf_steps_total",
		Help: "Total number of real (unpadded) time steps processed by the CRF",
	}, []string{"op"})
)

func observeCall(op string, began time.Time, lengths []int) {
	CallDuration.WithLabelValues(op).Observe(time.Since(began).Seconds())
	sequencesProcessed.WithLabelValues(op).Add(float64(len(lengths)))
	var steps int
	for _, l := range lengths {
		steps += l
	}
	stepsProcessed.WithLabelValues(op).Add(float64(steps))
}
