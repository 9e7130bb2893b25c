package invoker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric label values for remote call outcomes.
const (
	outcomeSuccess     = "success"
	outcomeRemoteError = "remote_error"
	outcomeTransport   = "transport_error"
)

var (
	remoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unitybridge_remote_call_seconds",
			Help:    "Duration of individual remote calls to the Unity host, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	remoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitybridge_remote_calls_total",
			Help: "Total number of remote calls to the Unity host, by command and outcome.",
		},
		[]string{"command", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(remoteCallDuration)
	prometheus.MustRegister(remoteCallsTotal)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, cmd := range []string{CommandExecute, CommandQuery, CommandPlayStart, CommandPlayStop, CommandPing} {
		remoteCallsTotal.WithLabelValues(cmd, outcomeSuccess)
		remoteCallsTotal.WithLabelValues(cmd, outcomeRemoteError)
		remoteCallsTotal.WithLabelValues(cmd, outcomeTransport)
	}
}

type metricsInvoker struct {
	next Invoker
}

// WithMetrics wraps next so that every call is counted and timed.
func WithMetrics(next Invoker) Invoker {
	if next == nil {
		return nil
	}
	return &metricsInvoker{next: next}
}

func (m *metricsInvoker) Invoke(ctx context.Context, call Call) (Result, error) {
	start := time.Now()
	res, err := m.next.Invoke(ctx, call)
	remoteCallDuration.WithLabelValues(call.Command).Observe(time.Since(start).Seconds())

	outcome := outcomeSuccess
	switch {
	case err != nil:
		outcome = outcomeTransport
	case !res.Success:
		outcome = outcomeRemoteError
	}
	remoteCallsTotal.WithLabelValues(call.Command, outcome).Inc()
	return res, err
}

func (m *metricsInvoker) CheckConnection(ctx context.Context) (bool, error) {
	return m.next.CheckConnection(ctx)
}
