package lifecycle

import (
	"go.uber.org/zap"

	"github.com/trinidad/trinidad/pkg/reclaim"
	"github.com/trinidad/trinidad/pkg/scan"
)

// Option configures the Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetricsCollector sets the metrics collector. A collector that also
// implements reclaim.MetricsCollector is handed to the default registry.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(c *Controller) {
		c.metrics = mc
	}
}

// WithConfig sets the configuration
func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		c.cfg = cfg
	}
}

// WithScanner replaces the scanner built from the configuration
func WithScanner(s *scan.Scanner) Option {
	return func(c *Controller) {
		c.scanner = s
	}
}

// WithRegistry replaces the default reclaim registry
func WithRegistry(r *reclaim.Registry) Option {
	return func(c *Controller) {
		c.registry = r
	}
}
