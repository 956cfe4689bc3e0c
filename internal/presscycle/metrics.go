package presscycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStaleRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_press_stale_rejected_total",
		Help: "Callbacks rejected because their press id was superseded",
	})

	metricSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_press_superseded_total",
		Help: "New presses that superseded a still non-idle cycle",
	})

	metricForcedResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_press_forced_resets_total",
		Help: "Cycles force-reset by the watchdog",
	})
)
