// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the exit engine.
type Metrics struct {
	// Simulation metrics
	SimulationsRun     prometheus.Counter
	SimulationsFailed  prometheus.Counter
	SimulationDuration prometheus.Histogram
	BatchDuration      prometheus.Histogram
	BatchWorkers       prometheus.Gauge

	// Evaluation metrics
	TriggersFired *prometheus.CounterVec

	// Aggregation metrics
	AggregatesComputed prometheus.Counter
	ResultsExcluded    prometheus.Counter

	// Feed metrics
	HistoryFetchDuration prometheus.Histogram
	HistoryFetchErrors   prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mirror_exit_engine"
	}

	return &Metrics{
		SimulationsRun: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulations_run_total",
			Help:      "Total simulations executed",
		}),
		SimulationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulations_failed_total",
			Help:      "Simulations that produced a failed result",
		}),
		SimulationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "simulation_duration_seconds",
			Help:      "Duration of one position simulation",
			Buckets:   prometheus.DefBuckets,
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of a full batch run",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		BatchWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_workers",
			Help:      "Workers configured for the current batch",
		}),
		TriggersFired: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_fired_total",
			Help:      "Exit triggers fired during simulations by reason",
		}, []string{"reason"}),
		AggregatesComputed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregates_computed_total",
			Help:      "Aggregate statistics computations",
		}),
		ResultsExcluded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_excluded_total",
			Help:      "Failed results excluded from aggregation",
		}),
		HistoryFetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_fetch_duration_seconds",
			Help:      "Duration of price history fetches",
			Buckets:   prometheus.DefBuckets,
		}),
		HistoryFetchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_fetch_errors_total",
			Help:      "Price history fetch failures",
		}),
	}
}

// Handler returns an HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
