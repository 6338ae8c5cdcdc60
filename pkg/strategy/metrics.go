package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Responses tracks answered requests by strategy and response source
	Responses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_strategy_responses_total",
			Help: "Total number of responses by strategy and source",
		},
		[]string{"strategy", "source"}, // source: "network", "cache", "offline"
	)

	// Failures tracks requests that ended in a propagated network error
	Failures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_strategy_failures_total",
			Help: "Total number of requests failed with neither network nor cache",
		},
		[]string{"strategy"},
	)

	// Refreshes tracks background revalidation outcomes
	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_strategy_refreshes_total",
			Help: "Total number of background cache refreshes by outcome",
		},
		[]string{"outcome"}, // "updated", "not_modified", "rejected", "failed", "skipped"
	)

	// RefreshesInFlight tracks background refreshes currently running
	RefreshesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sw_strategy_refreshes_in_flight",
			Help: "Number of background cache refreshes in flight",
		},
	)
)
