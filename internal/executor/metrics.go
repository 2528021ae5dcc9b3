package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoclips_stage_attempts_total",
			Help: "Stage attempts by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	stageAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoclips_stage_attempt_duration_seconds",
			Help:    "Duration of individual stage attempts in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	stageExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoclips_stage_exhausted_total",
			Help: "Stages that failed after reaching the attempt ceiling.",
		},
		[]string{"stage"},
	)
)
