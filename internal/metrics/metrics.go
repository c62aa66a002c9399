package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionsExecutedTotal counts action execution attempts by result status
	// and action type.
	ActionsExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_actions_executed_total",
		Help: "The total number of executed workflow actions",
	}, []string{"status", "type"})

	// StepsCompletedTotal counts step completions by final step status.
	StepsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_steps_completed_total",
		Help: "The total number of completed or failed order steps",
	}, []string{"status"})

	// StepDurationSeconds tracks how long steps run, per workstation.
	StepDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mes_step_duration_seconds",
		Help:    "Wall-clock duration of order steps",
		Buckets: prometheus.DefBuckets,
	}, []string{"workstation"})

	// DeviceWatchesStartedTotal counts device polling watches.
	DeviceWatchesStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mes_device_watches_started_total",
		Help: "The total number of device confirmation watches started",
	})
)
