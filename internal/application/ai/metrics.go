package ai

import "github.com/prometheus/client_golang/prometheus"

var (
	analysisCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposcan_analysis_calls_total",
			Help: "Calls to the analysis provider by outcome.",
		},
		[]string{"provider", "outcome"},
	)
	analysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reposcan_analysis_duration_seconds",
			Help:    "Latency of single analysis provider calls.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(analysisCalls, analysisDuration)
}
