package occupancy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	stateLabel     = "state"
	fromStateLabel = "from_state"
	toStateLabel   = "to_state"
)

var (
	occupancyCells = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "occupancy_cells",
		Help: "The number of stored occupancy cells across all maps.",
	}, []string{stateLabel})

	occupancyIntegratedRays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "occupancy_integrated_rays_total",
		Help: "The total number of rays folded into occupancy maps.",
	})

	occupancyCellTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "occupancy_cell_transitions_total",
		Help: "The total number of discrete cell state changes.",
	}, []string{
		fromStateLabel,
		toStateLabel,
	})
)

func instrumentIntegratedRay() {
	occupancyIntegratedRays.Inc()
}

func instrumentNewCell(s State) {
	occupancyCells.
		With(prometheus.Labels{stateLabel: s.String()}).
		Inc()
}

func instrumentCellTransition(before, after State) {
	occupancyCells.
		With(prometheus.Labels{stateLabel: before.String()}).
		Dec()
	occupancyCells.
		With(prometheus.Labels{stateLabel: after.String()}).
		Inc()
	occupancyCellTransitions.
		With(prometheus.Labels{
			fromStateLabel: before.String(),
			toStateLabel:   after.String(),
		}).
		Inc()
}

func instrumentRestoreMap(occupied, free, unknown uint64) {
	occupancyCells.
		With(prometheus.Labels{stateLabel: StateOccupied.String()}).
		Add(float64(occupied))
	occupancyCells.
		With(prometheus.Labels{stateLabel: StateFree.String()}).
		Add(float64(free))
	occupancyCells.
		With(prometheus.Labels{stateLabel: StateUnknown.String()}).
		Add(float64(unknown))
}

func instrumentForgetMap(occupied, free, unknown uint64) {
	occupancyCells.
		With(prometheus.Labels{stateLabel: StateOccupied.String()}).
		Sub(float64(occupied))
	occupancyCells.
		With(prometheus.Labels{stateLabel: StateFree.String()}).
		Sub(float64(free))
	occupancyCells.
		With(prometheus.Labels{stateLabel: StateUnknown.String()}).
		Sub(float64(unknown))
}
