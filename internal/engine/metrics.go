package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/unitybridge/internal/model"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitybridge_operations_total",
			Help: "Total number of operations that reached a terminal state, by state.",
		},
		[]string{"state"},
	)

	operationsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unitybridge_operations_running",
			Help: "Number of operations currently in the running state.",
		},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unitybridge_operation_duration_seconds",
			Help:    "Time from creation to terminal state, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(operationsTotal)
	prometheus.MustRegister(operationsRunning)
	prometheus.MustRegister(operationDuration)

	for _, s := range []model.State{model.StateSucceeded, model.StateFailed, model.StateTimedOut, model.StateCancelled} {
		operationsTotal.WithLabelValues(string(s))
	}
}
