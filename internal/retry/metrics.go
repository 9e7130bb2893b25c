package retry

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
)

var attemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "unitybridge_retry_attempts_total",
		Help: "Total number of remote call attempts made by the retry wrapper, by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(attemptsTotal)

	attemptsTotal.WithLabelValues(outcomeSucceeded)
	attemptsTotal.WithLabelValues(outcomeFailed)
}
