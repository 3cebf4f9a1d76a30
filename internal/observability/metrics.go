package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Engine metrics
	PolicyEvaluations    prometheus.Counter
	ConditionEvaluations *prometheus.CounterVec
	ConditionsSkipped    *prometheus.CounterVec
	EvaluationDuration   prometheus.Histogram

	// Violation metrics
	Violations *prometheus.CounterVec

	// Run metrics
	RunsTotal         prometheus.Counter
	RunsFailed        prometheus.Counter
	RunDuration       prometheus.Histogram
	LastRunPolicies   prometheus.Gauge
	LastRunComponents prometheus.Gauge

	// Catalog metrics
	CatalogLoadErrors prometheus.Counter
	CatalogChanges    prometheus.Counter
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			PolicyEvaluations: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vigil_policy_evaluations_total",
				Help: "Total number of (policy, component) evaluations",
			}),
			ConditionEvaluations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vigil_condition_evaluations_total",
					Help: "Total number of conditions dispatched to an evaluator by subject",
				},
				[]string{"subject"},
			),
			ConditionsSkipped: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vigil_conditions_skipped_total",
					Help: "Total number of conditions skipped without evaluation by reason",
				},
				[]string{"reason"},
			),
			EvaluationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "vigil_evaluation_duration_seconds",
				Help:    "Duration of a single (policy, component) evaluation in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			}),

			Violations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vigil_violations_total",
					Help: "Total number of policy condition violations by state and type",
				},
				[]string{"state", "type"},
			),

			RunsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vigil_runs_total",
				Help: "Total number of catalog evaluation runs",
			}),
			RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vigil_runs_failed_total",
				Help: "Total number of catalog evaluation runs that did not complete",
			}),
			RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "vigil_run_duration_seconds",
				Help:    "Duration of catalog evaluation runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
			}),
			LastRunPolicies: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "vigil_last_run_policies",
				Help: "Number of policies evaluated in the most recent run",
			}),
			LastRunComponents: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "vigil_last_run_components",
				Help: "Number of components evaluated in the most recent run",
			}),

			CatalogLoadErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vigil_catalog_load_errors_total",
				Help: "Total number of catalog documents that failed to load",
			}),
			CatalogChanges: promauto.NewCounter(prometheus.CounterOpts{
				Name: "vigil_catalog_changes_total",
				Help: "Total number of catalog digest changes detected by the watcher",
			}),
		}
	})
	return metricsInstance
}
