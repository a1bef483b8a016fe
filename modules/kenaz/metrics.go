package kenaz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const algorithmLabel = "algorithm"

var (
	kenazTraces = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kenaz_traces",
		Help: "The number of handled trace requests.",
	}, []string{
		algorithmLabel,
	})

	kenazCrossCheckDivergences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kenaz_cross_check_divergences",
		Help: "The number of traces where the cross-checked variant visited a different voxel set.",
	})
)

func instrumentTrace(algorithm string) {
	kenazTraces.
		With(prometheus.Labels{algorithmLabel: algorithm}).
		Inc()
}

func instrumentCrossCheckDivergence() {
	kenazCrossCheckDivergences.Inc()
}
