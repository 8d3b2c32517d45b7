package reclaim

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Option configures the Registry
type Option func(*Registry)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(r *Registry) {
		r.metrics = mc
	}
}

// WithStrategies registers strategies at construction
func WithStrategies(strategies ...Strategy) Option {
	return func(r *Registry) {
		r.strategies = append(r.strategies, strategies...)
	}
}

// Registry runs the registered strategies against a dying module
type Registry struct {
	strategies []Strategy
	logger     *zap.Logger
	metrics    MetricsCollector
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:  zap.NewNop(),
		metrics: NewNoopMetricsCollector(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends a strategy. Registration is not safe concurrently with
// Run.
func (r *Registry) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
}

// Strategies returns the registered strategies in run order
func (r *Registry) Strategies() []Strategy {
	return append([]Strategy(nil), r.strategies...)
}

// Run executes every strategy sequentially in the caller's goroutine. A
// failing or panicking strategy is recorded and the remaining ones still run.
func (r *Registry) Run(ctx context.Context, t Target) Report {
	report := Report{Outcomes: make([]Outcome, 0, len(r.strategies))}

	for _, s := range r.strategies {
		out := r.runOne(ctx, s, t)
		r.log(t, out)
		r.metrics.ReclaimOutcome(out.Strategy, out.Result)
		report.Outcomes = append(report.Outcomes, out)
	}
	return report
}

func (r *Registry) runOne(ctx context.Context, s Strategy, t Target) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = failed(s.Name(), fmt.Errorf("strategy panicked: %v", rec))
		}
	}()

	out = s.Reclaim(ctx, t)
	if out.Strategy == "" {
		out.Strategy = s.Name()
	}
	return out
}

func (r *Registry) log(t Target, out Outcome) {
	fields := []zap.Field{
		zap.String("module", t.Module),
		zap.Stringer("boundary", t.Boundary),
		zap.String("strategy", out.Strategy),
		zap.String("detail", out.Detail),
	}

	switch {
	case out.Result == Failed:
		r.logger.Warn("Failed to reclaim leaked resource", append(fields, zap.Error(out.Reason))...)
	case out.Forced:
		r.logger.Warn("Forcibly reclaimed resource of unknown ownership", fields...)
	case out.Result == Reclaimed:
		r.logger.Info("Reclaimed leaked resource", fields...)
	default:
		r.logger.Debug("Nothing to reclaim", fields...)
	}
}

// Report collects the outcomes of one run
type Report struct {
	Outcomes []Outcome
}

// Count returns how many outcomes had the given result
func (rep Report) Count(result Result) int {
	n := 0
	for _, out := range rep.Outcomes {
		if out.Result == result {
			n++
		}
	}
	return n
}

// Err combines the failures of the run, nil when none failed
func (rep Report) Err() error {
	var err error
	for _, out := range rep.Outcomes {
		if out.Result == Failed {
			err = multierr.Append(err, fmt.Errorf("%s: %w", out.Strategy, out.Reason))
		}
	}
	return err
}
