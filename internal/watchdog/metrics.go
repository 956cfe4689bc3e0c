package watchdog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ptk_watchdog_recoveries_total",
	Help: "Corrective actions issued by the watchdog",
}, []string{"condition"})
