package workerws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ptk_worker_commands_total",
	Help: "Commands delivered to workers",
}, []string{"role", "type"})
