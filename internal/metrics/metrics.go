// Package metrics exposes Prometheus instrumentation for the evolution
// engine and the HTTP server that serves it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcome label values (bounded set)
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Evolution metrics
var (
	EvolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evofunk_evolutions_total",
		Help: "Total number of completed evolution tasks by outcome",
	}, []string{"outcome", "trigger"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evofunk_evolution_queue_depth",
		Help: "Number of evolution tasks waiting to run",
	})

	RunningTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evofunk_evolution_running_tasks",
		Help: "Number of evolution tasks currently running",
	})

	StrategyFitness = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evofunk_strategy_fitness",
		Help:    "Distribution of strategy fitness values after metric refresh",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evofunk_genome_commit_duration_seconds",
		Help:    "Time spent durably committing a genome and its event",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	StrategiesByTier = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evofunk_strategies_by_tier",
		Help: "Number of strategies per lifecycle tier",
	}, []string{"status"})

	CapitalUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evofunk_capital_utilization",
		Help: "Sum of allocation ratios across trading strategies",
	})
)

// Candidate pipeline metrics
var (
	CandidatesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evofunk_candidates_generated_total",
		Help: "Total candidate genomes generated by mutation intensity",
	}, []string{"intensity"})

	ValidationRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evofunk_validation_rejections_total",
		Help: "Total candidates rejected during validation",
	})
)
