package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/trinidad/trinidad/pkg/census"
	"github.com/trinidad/trinidad/pkg/container"
	"github.com/trinidad/trinidad/pkg/loader"
	"github.com/trinidad/trinidad/pkg/managed"
	"github.com/trinidad/trinidad/pkg/reclaim"
	"github.com/trinidad/trinidad/pkg/scan"
)

// Container is what the controller needs from the host's module container.
// Nothing else about the container is reachable from here.
type Container interface {
	Name() string
	Root() string
	Classpath() []string
	StateName() string
	Attribute(name string) any
	AddListener(l container.Listener)
	RemoveListener(l container.Listener)
}

// Controller drives one module boundary through its lifecycle
type Controller struct {
	container Container
	parent    *Boundary
	cfg       Config

	logger   *zap.Logger
	metrics  MetricsCollector
	scanner  *scan.Scanner
	registry *reclaim.Registry

	// mu serializes Start and Stop
	mu       sync.Mutex
	state    atomic.Int32
	boundary *Boundary
	units    []scan.Unit

	snapMu   sync.Mutex
	captured bool
	snapshot []managed.Runtime
}

// New creates a controller for c. A nil parent places the module directly
// below a fresh host boundary.
func New(c Container, parent *Boundary, opts ...Option) (*Controller, error) {
	ctrl := &Controller{
		container: c,
		parent:    parent,
		cfg:       DefaultConfig(),
		logger:    zap.NewNop(),
		metrics:   NewNoopMetricsCollector(),
	}
	for _, opt := range opts {
		opt(ctrl)
	}

	if err := ctrl.cfg.Validate(); err != nil {
		return nil, err
	}
	if ctrl.parent == nil {
		ctrl.parent = NewRootBoundary("host")
	}
	ctrl.logger = ctrl.logger.With(zap.String("module", c.Name()))

	if ctrl.scanner == nil {
		s, err := scan.New(
			scan.WithFastPathOnly(ctrl.cfg.FastPathOnly),
			scan.WithScanDirectories(ctrl.cfg.ScanDirectories),
			scan.WithLogger(ctrl.logger),
		)
		if err != nil {
			return nil, err
		}
		ctrl.scanner = s
	}

	if ctrl.registry == nil {
		regOpts := []reclaim.Option{
			reclaim.WithLogger(ctrl.logger),
			reclaim.WithStrategies(reclaim.Defaults(ctrl.cfg.SecurityServices)...),
		}
		if mc, ok := ctrl.metrics.(reclaim.MetricsCollector); ok {
			regOpts = append(regOpts, reclaim.WithMetricsCollector(mc))
		}
		ctrl.registry = reclaim.NewRegistry(regOpts...)
	}

	return ctrl, nil
}

// State returns the current state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Boundary returns the module boundary, nil before Start
func (c *Controller) Boundary() *Boundary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundary
}

// Units returns the units discovered on Start
func (c *Controller) Units() []scan.Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]scan.Unit(nil), c.units...)
}

func (c *Controller) transition(to State) {
	from := State(c.state.Swap(int32(to)))
	c.metrics.StateTransition(c.container.Name(), from, to)
	c.logger.Debug("Module state transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

// Start establishes the boundary, discovers the module's archives and
// subscribes to the container's stop event
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.State(); s != StateCreated {
		return ErrWrongState(c.container.Name(), "start", s)
	}

	name := c.container.Name()
	b := c.parent.NewChild(name)
	b.Loader().SetClasspath(c.container.Classpath())

	var units []scan.Unit
	stats, err := c.scanner.Scan(ctx, c.container.Root(), b.Loader(), c.cfg.Exclusions, func(u scan.Unit) error {
		units = append(units, u)
		c.metrics.ScanUnit(name, u.Kind.String())
		return nil
	})
	if err != nil {
		_ = b.Release(ctx)
		return ErrScanFailed(name, err)
	}

	c.boundary = b
	c.units = units
	c.container.AddListener(c)
	c.transition(StateStarted)

	c.logger.Info("Module started",
		zap.Stringer("boundary", b),
		zap.Int("units", stats.Visited),
		zap.Int("excluded", stats.Excluded),
		zap.Int("failed", stats.Failed))
	return nil
}

// LifecycleEvent captures the managed runtimes when the container signals
// its stop, the last moment its attributes are readable
func (c *Controller) LifecycleEvent(e container.Event) {
	if e.Type != container.EventStop {
		return
	}
	c.captureRuntimes()
}

func (c *Controller) captureRuntimes() {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	if c.captured {
		return
	}

	provider, ok := c.container.Attribute(managed.FactoryAttribute).(managed.Provider)
	if !ok {
		c.logger.Debug("No runtime factory published", zap.String("attribute", managed.FactoryAttribute))
		return
	}
	runtimes, err := provider.ManagedRuntimes()
	if err != nil {
		c.logger.Warn("Failed to list managed runtimes", zap.Error(err))
		return
	}

	c.captured = true
	c.snapshot = runtimes
	c.logger.Debug("Captured managed runtimes", zap.Int("count", len(runtimes)))
}

// Stop reclaims what the module leaked into process-wide state and
// releases its boundary. Strategy failures are part of the report; the
// controller reaches Stopped regardless. Stopping a controller that is not
// started is an error.
func (c *Controller) Stop(ctx context.Context) (reclaim.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.State(); s != StateStarted {
		return reclaim.Report{}, ErrWrongState(c.container.Name(), "stop", s)
	}

	start := time.Now()
	c.transition(StateStopping)
	c.container.RemoveListener(c)

	b := c.boundary
	target := reclaim.Target{
		Module:   c.container.Name(),
		Boundary: b.Loader(),
		Force:    c.cfg.ForceSecurityCleanup,
	}

	c.snapMu.Lock()
	captured, runtimes := c.captured, c.snapshot
	c.snapMu.Unlock()

	if captured {
		b.setRuntimes(runtimes)
		for _, rt := range runtimes {
			target.Runtimes = append(target.Runtimes, rt.Loader())
		}
	} else {
		c.logger.Info("No managed runtime snapshot captured, reclaiming by boundary identity only",
			zap.String("container_state", c.container.StateName()))
	}

	report := c.registry.Run(ctx, target)
	repaired := c.registry.RepairWorkerContexts(b.Loader())

	c.transition(StateStopped)
	if err := b.Release(ctx); err != nil {
		c.logger.Warn("Failed to close managed runtimes", zap.Error(err))
	}

	leaked := c.reportLeaks(b.Loader())
	c.metrics.StopDuration(c.container.Name(), time.Since(start))

	c.logger.Info("Module stopped",
		zap.Stringer("boundary", b),
		zap.Int("reclaimed", report.Count(reclaim.Reclaimed)),
		zap.Int("failed", report.Count(reclaim.Failed)),
		zap.Int("workers_repaired", repaired),
		zap.Int("leaked_threads", leaked),
		zap.Duration("duration", time.Since(start)))
	return report, nil
}

// reportLeaks logs threads that still pin the stopped boundary. They are
// leaks no strategy knows about and are left alone.
func (c *Controller) reportLeaks(l *loader.Context) int {
	pinned := census.ThreadsPinning(l)
	c.metrics.LeakedThreads(c.container.Name(), len(pinned))
	if len(pinned) == 0 {
		return 0
	}

	for _, th := range pinned {
		c.logger.Warn("Thread still pins stopped module", zap.Stringer("thread", th))
	}
	if ce := c.logger.Check(zap.DebugLevel, "Goroutine dump after stop"); ce != nil {
		fields := []zap.Field{zap.ByteString("goroutines", census.Goroutines())}
		if n, err := census.NativeThreads(); err == nil {
			fields = append(fields, zap.Int("native_threads", n))
		}
		ce.Write(fields...)
	}
	return len(pinned)
}
