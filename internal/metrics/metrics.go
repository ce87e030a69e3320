package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application.
type Metrics struct {
	// Generation metrics
	GenerationRequests prometheus.Counter
	GenerationOutcomes *prometheus.CounterVec
	GenerationAttempts prometheus.Histogram
	GenerationLatency  prometheus.Histogram

	// Execution metrics
	BlockRuns       *prometheus.CounterVec
	WorkflowRuns    *prometheus.CounterVec
	BlockRunLatency prometheus.Histogram
}

// Init initializes the Prometheus metrics.
func Init() *Metrics {
	return &Metrics{
		GenerationRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "blockforge_generation_requests_total",
			Help: "Total number of block generation requests",
		}),

		GenerationOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blockforge_generation_outcomes_total",
			Help: "Generation results by outcome",
		}, []string{"outcome"}), // "ready", "failed", "rejected"

		GenerationAttempts: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockforge_generation_attempts",
			Help:    "Number of LLM attempts per generation",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),

		GenerationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockforge_generation_duration_seconds",
			Help:    "Block generation latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		BlockRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blockforge_block_runs_total",
			Help: "Block executions by result",
		}, []string{"result"}), // "completed", "failed"

		WorkflowRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blockforge_workflow_runs_total",
			Help: "Workflow runs by final status",
		}, []string{"status"}), // "completed", "partial", "failed"

		BlockRunLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockforge_block_run_duration_seconds",
			Help:    "Single block execution latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}
