package chord

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricGestures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptk_chord_gestures_total",
		Help: "Debounced chord gestures emitted",
	}, []string{"kind"})

	metricNoiseCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_chord_noise_cancelled_total",
		Help: "Pending releases cancelled as transient edge noise",
	})

	metricStaleResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptk_chord_stale_resets_total",
		Help: "Chord states force-cleared by reconciliation",
	})
)
