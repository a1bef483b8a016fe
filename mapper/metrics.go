package mapper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeLabel   = "outcome"
	algorithmLabel = "algorithm"
	reasonLabel    = "reason"
)

const (
	scanOutcomeIntegrated = "integrated"
	scanOutcomeLowScore   = "low_score"
	scanOutcomeUnscored   = "unscored"
	scanOutcomeCanceled   = "canceled"
)

const (
	skipReasonMaxVoxels = "max_voxels"
	skipReasonStepBound = "step_bound"
	skipReasonNonFinite = "non_finite"
)

var (
	mapperScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_scans",
		Help: "The number of scans submitted to the pipeline.",
	}, []string{
		outcomeLabel,
	})

	mapperSkippedRays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_skipped_rays",
		Help: "The number of scan points dropped without touching the map.",
	}, []string{
		reasonLabel,
	})

	mapperDivergences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapper_traversal_divergences",
		Help: "The number of rays where the traversal variants visited different voxel sets.",
	})

	mapperTraversalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "mapper_traversal_duration_seconds",
		Help: "The time to traverse one ray.",
	}, []string{
		algorithmLabel,
	})
)

func instrumentScan(outcome string) {
	mapperScans.
		With(prometheus.Labels{outcomeLabel: outcome}).
		Inc()
}

func instrumentSkippedRay(reason string) {
	mapperSkippedRays.
		With(prometheus.Labels{reasonLabel: reason}).
		Inc()
}

func instrumentDivergence() {
	mapperDivergences.Inc()
}

func instrumentTraversal(algorithm string, d time.Duration) {
	mapperTraversalDuration.
		With(prometheus.Labels{algorithmLabel: algorithm}).
		Observe(d.Seconds())
}
