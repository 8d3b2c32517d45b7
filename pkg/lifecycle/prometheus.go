package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trinidad/trinidad/pkg/census"
	"github.com/trinidad/trinidad/pkg/reclaim"
)

// PrometheusMetricsCollector implements MetricsCollector and
// reclaim.MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	// Lifecycle metrics
	stateTransitions *prometheus.CounterVec
	stopDuration     *prometheus.HistogramVec
	scanUnits        *prometheus.CounterVec
	leakedThreads    *prometheus.GaugeVec

	// Reclaim metrics
	reclaimOutcomes *prometheus.CounterVec
	workersRepaired prometheus.Counter

	// Census metrics
	threads prometheus.GaugeFunc

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "trinidad"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_state_transitions_total",
			Help:      "Total number of module lifecycle state transitions",
		},
		[]string{"module", "from_state", "to_state"},
	)

	pmc.stopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lifecycle_stop_duration_seconds",
			Help:      "Duration of module stops including reclamation",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"module"},
	)

	pmc.scanUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_units_total",
			Help:      "Total number of classpath units discovered",
		},
		[]string{"module", "kind"},
	)

	pmc.leakedThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_leaked_threads",
			Help:      "Threads still pinning a stopped module after reclamation",
		},
		[]string{"module"},
	)

	pmc.reclaimOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaim_outcomes_total",
			Help:      "Total number of reclaim strategy outcomes",
		},
		[]string{"strategy", "result"},
	)

	pmc.workersRepaired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaim_workers_repaired_total",
			Help:      "Total number of worker threads whose context loader was reset",
		},
	)

	pmc.threads = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "census_threads",
			Help:      "Number of tracked threads alive in the process",
		},
		func() float64 { return float64(len(census.AllThreads())) },
	)

	pmc.registry.MustRegister(
		pmc.stateTransitions,
		pmc.stopDuration,
		pmc.scanUnits,
		pmc.leakedThreads,
		pmc.reclaimOutcomes,
		pmc.workersRepaired,
		pmc.threads,
	)

	return pmc
}

// StateTransition records a state transition
func (pmc *PrometheusMetricsCollector) StateTransition(module string, from, to State) {
	pmc.stateTransitions.WithLabelValues(module, from.String(), to.String()).Inc()
}

// StopDuration records the duration of a stop
func (pmc *PrometheusMetricsCollector) StopDuration(module string, duration time.Duration) {
	pmc.stopDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// ScanUnit records a discovered unit
func (pmc *PrometheusMetricsCollector) ScanUnit(module, kind string) {
	pmc.scanUnits.WithLabelValues(module, kind).Inc()
}

// LeakedThreads records threads still pinning a stopped module
func (pmc *PrometheusMetricsCollector) LeakedThreads(module string, count int) {
	pmc.leakedThreads.WithLabelValues(module).Set(float64(count))
}

// ReclaimOutcome records the result of a strategy run
func (pmc *PrometheusMetricsCollector) ReclaimOutcome(strategy string, result reclaim.Result) {
	pmc.reclaimOutcomes.WithLabelValues(strategy, result.String()).Inc()
}

// WorkersRepaired records repaired worker threads
func (pmc *PrometheusMetricsCollector) WorkersRepaired(n int) {
	pmc.workersRepaired.Add(float64(n))
}

// Registry returns the Prometheus registry for HTTP handler setup
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// Compile-time interface compliance checks
var (
	_ MetricsCollector         = (*PrometheusMetricsCollector)(nil)
	_ reclaim.MetricsCollector = (*PrometheusMetricsCollector)(nil)
)
