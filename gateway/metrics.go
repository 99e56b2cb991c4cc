package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "databench",
		Name:      "executions_total",
		Help:      "Total execution requests by terminal status.",
	}, []string{"status"})

	executionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "databench",
		Name:      "execution_duration_seconds",
		Help:      "Workbench execution duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "databench",
		Name:      "executions_in_flight",
		Help:      "Executions currently holding a worker slot.",
	})

	policyViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "databench",
		Name:      "policy_violations_total",
		Help:      "Static scanner violations by rule.",
	}, []string{"rule"})
)
