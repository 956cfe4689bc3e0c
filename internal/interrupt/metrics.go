package interrupt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_interrupts_accepted_total",
		Help: "Interrupt requests accepted and fanned out",
	})

	metricDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_interrupts_deduped_total",
		Help: "Interrupt requests dropped as duplicates",
	})

	metricContractViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_interrupt_contract_violations_total",
		Help: "Interrupt requests rejected for a missing session id",
	})
)
