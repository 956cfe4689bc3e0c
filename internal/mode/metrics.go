package mode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptk_mode_transitions_total",
		Help: "Applied mode transitions",
	}, []string{"from", "to"})

	metricCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_mode_requests_coalesced_total",
		Help: "Duplicate mode requests coalesced inside the dedup window",
	})

	metricStaleRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_mode_stale_rejected_total",
		Help: "Escalating mode requests rejected for superseded sessions",
	})

	metricContractViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_mode_contract_violations_total",
		Help: "Mode requests rejected for missing required identity",
	})

	metricDroppedChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_mode_changes_dropped_total",
		Help: "Mode change notifications dropped on slow subscribers",
	})
)
