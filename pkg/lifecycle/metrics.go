package lifecycle

import (
	"time"
)

// MetricsCollector defines the interface for collecting lifecycle metrics
type MetricsCollector interface {
	// StateTransition records a state transition of a module
	StateTransition(module string, from, to State)

	// StopDuration records how long a stop took
	StopDuration(module string, duration time.Duration)

	// ScanUnit records a discovered unit
	ScanUnit(module, kind string)

	// LeakedThreads records threads still pinning a stopped module
	LeakedThreads(module string, count int)
}

type noopMetricsCollector struct{}

func (n *noopMetricsCollector) StateTransition(module string, from, to State)      {}
func (n *noopMetricsCollector) StopDuration(module string, duration time.Duration) {}
func (n *noopMetricsCollector) ScanUnit(module, kind string)                       {}
func (n *noopMetricsCollector) LeakedThreads(module string, count int)             {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
