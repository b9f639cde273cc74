package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tagger_forward_breaker_state",
		Help: "State of the forwarding circuit breaker (0 closed, 1 open, 2 half-open)",
	})

	breakerRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagger_forward_breaker_rejections_total",
		Help: "Total number of forwards rejected by the open circuit breaker",
	})

	recordsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagger_flight_records_sent_total",
		Help: "Total number of rows sent over Flight",
	})
)
