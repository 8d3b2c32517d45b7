package reclaim

// MetricsCollector defines the interface for collecting reclamation metrics
type MetricsCollector interface {
	// ReclaimOutcome records the result of one strategy run
	ReclaimOutcome(strategy string, result Result)

	// WorkersRepaired records how many worker threads had their context
	// loader reset
	WorkersRepaired(n int)
}

type noopMetricsCollector struct{}

func (n *noopMetricsCollector) ReclaimOutcome(strategy string, result Result) {}
func (n *noopMetricsCollector) WorkersRepaired(count int)                     {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
