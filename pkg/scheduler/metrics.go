package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_cycles_total",
		Help: "Dispatch cycles by outcome",
	}, []string{"outcome"})

	optimizerEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_optimizer_evaluations_total",
		Help: "Cost function evaluations made by the optimizer",
	})

	optimizerNotConverged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_optimizer_not_converged_total",
		Help: "Optimizer runs that exhausted their budget before converging",
	})

	sleepSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatcher_cycle_sleep_seconds",
		Help:    "Time each cycle waited for its slot to start",
		Buckets: []float64{0, 1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	})

	commandMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatcher_command_mode",
		Help: "Set to 1 for the mode of the last applied command",
	}, []string{"mode"})

	batteryPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatcher_battery_percent",
		Help: "Battery state of charge at the start of the last cycle",
	})
)
