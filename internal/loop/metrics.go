package loop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricIngress = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_loop_ingress_total",
		Help: "Events accepted onto the ingress queue",
	})

	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_loop_dropped_total",
		Help: "Events dropped because the ingress queue was full",
	})

	metricStaleIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_loop_stale_ignored_total",
		Help: "Events ignored because their press or session was superseded",
	})
)
