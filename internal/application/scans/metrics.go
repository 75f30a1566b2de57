package scans

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reposcan_jobs_active",
		Help: "Scan jobs currently holding a processing slot.",
	})
	filesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reposcan_files_processed_total",
		Help: "Files processed by outcome.",
	}, []string{"outcome"})
	reportsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reposcan_reports_finished_total",
		Help: "Reports that reached a terminal status.",
	}, []string{"status"})
	reportsResumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reposcan_reports_resumed_total",
		Help: "Stale reports resumed by the janitor.",
	})
)

func init() {
	prometheus.MustRegister(jobsActive, filesProcessed, reportsFinished, reportsResumed)
}
