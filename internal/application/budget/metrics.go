package budget

import "github.com/prometheus/client_golang/prometheus"

var (
	budgetReservedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reposcan_budget_reserved_tokens",
		Help: "Counter for estimated tokens charged against the provider budget.",
	})
	budgetWaitsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reposcan_budget_waits",
		Help: "Counter for reservations that had to wait for the budget window to roll over.",
	})
	budgetLimitGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reposcan_budget_limit_tokens",
		Help: "Effective token limit per budget window.",
	})
)

func init() {
	prometheus.MustRegister(budgetReservedCounter, budgetWaitsCounter, budgetLimitGauge)
}
