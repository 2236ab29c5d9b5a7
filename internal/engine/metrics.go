package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinos_settlements_total",
		Help: "Settlement operations applied to the ledger",
	}, []string{"rail", "direction"})

	railFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinos_rail_failures_total",
		Help: "External rail calls that failed",
	}, []string{"rail"})
)
