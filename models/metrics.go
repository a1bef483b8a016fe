package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	raidoSessionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_count",
		Help: "The number of sessions.",
	})

	raidoSessionCountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_count_total",
		Help: "The total number of sessions.",
	})

	raidoParticipantCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "participant_count",
		Help: "The number of connected participants.",
	})
)

func instrumentIncreaseSessionGauge() {
	raidoSessionCount.Inc()
}

func instrumentDecreaseSessionGauge() {
	raidoSessionCount.Dec()
}

func instrumentCountSession() {
	raidoSessionCountTotal.Inc()
}

func instrumentIncreaseParticipantGauge() {
	raidoParticipantCount.Inc()
}

func instrumentDecreaseParticipantGauge() {
	raidoParticipantCount.Dec()
}
