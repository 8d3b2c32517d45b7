// Package host deploys modules from a modules directory, each inside its own
// lifecycle boundary below a shared boundary, and reloads them in place.
package host

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trinidad/trinidad/pkg/container"
	"github.com/trinidad/trinidad/pkg/lifecycle"
	"github.com/trinidad/trinidad/pkg/managed"
	"github.com/trinidad/trinidad/pkg/reclaim"
)

// maxConcurrentDeploys bounds parallel module starts and stops
const maxConcurrentDeploys = 4

// Option configures the Host
type Option func(*Host)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithMetricsCollector sets the metrics collector handed to controllers
func WithMetricsCollector(mc lifecycle.MetricsCollector) Option {
	return func(h *Host) {
		h.metrics = mc
	}
}

type deployment struct {
	manifest  *Manifest
	module    *container.Module
	ctrl      *lifecycle.Controller
	app       *Application
	reloading atomic.Bool
}

// Host owns the boundary tree and the deployed modules
type Host struct {
	cfg      Config
	logger   *zap.Logger
	metrics  lifecycle.MetricsCollector
	root     *lifecycle.Boundary
	shared   *lifecycle.Boundary
	registry *Registry

	mu          sync.Mutex
	deployments map[string]*deployment
}

// New creates a host. The shared boundary carries the configured shared
// classpath, with relative entries resolved against the working directory so
// every module sees the same archives.
func New(cfg Config, opts ...Option) *Host {
	h := &Host{
		cfg:         cfg,
		logger:      zap.NewNop(),
		metrics:     lifecycle.NewNoopMetricsCollector(),
		deployments: make(map[string]*deployment),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.root = lifecycle.NewRootBoundary("host")
	h.shared = h.root.NewChild("shared")
	h.shared.Loader().SetClasspath(absClasspath(cfg.SharedClasspath))
	h.registry = NewRegistry(cfg.ModulesDir, h.logger)
	return h
}

// Shared returns the boundary all modules descend from
func (h *Host) Shared() *lifecycle.Boundary {
	return h.shared
}

// Registry returns the module registry
func (h *Host) Registry() *Registry {
	return h.registry
}

// DeployAll discovers the modules directory and deploys every module. Modules
// deploy independently: one that fails to start does not stop the others,
// and the returned error combines every failure.
func (h *Host) DeployAll(ctx context.Context) error {
	if err := h.registry.Discover(); err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs error
	)
	var g errgroup.Group
	g.SetLimit(maxConcurrentDeploys)
	for _, m := range h.registry.List() {
		m := m
		g.Go(func() error {
			if err := h.Deploy(ctx, m); err != nil {
				h.logger.Warn("Failed to deploy module", zap.String("module", m.Name), zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// Deploy starts a module
func (h *Host) Deploy(ctx context.Context, m *Manifest) error {
	h.mu.Lock()
	if _, exists := h.deployments[m.Name]; exists {
		h.mu.Unlock()
		return ErrAlreadyDeployed(m.Name)
	}
	// reserve the name while starting
	h.deployments[m.Name] = nil
	h.mu.Unlock()

	d, err := h.start(ctx, m)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		delete(h.deployments, m.Name)
		return err
	}
	h.deployments[m.Name] = d
	return nil
}

// Undeploy stops a module and reclaims what it leaked
func (h *Host) Undeploy(ctx context.Context, name string) (reclaim.Report, error) {
	h.mu.Lock()
	d, ok := h.deployments[name]
	if !ok || d == nil {
		h.mu.Unlock()
		return reclaim.Report{}, ErrModuleNotFound(name, h.cfg.ModulesDir)
	}
	delete(h.deployments, name)
	h.mu.Unlock()

	return h.stop(ctx, d)
}

// Reload replaces a running module according to its reload strategy. The
// manifest is re-read; if it no longer loads the previous one is used.
// Overlapping reloads of one module are rejected.
func (h *Host) Reload(ctx context.Context, name string) error {
	old := h.lookup(name)
	if old == nil {
		return ErrModuleNotFound(name, h.cfg.ModulesDir)
	}
	if !old.reloading.CompareAndSwap(false, true) {
		return ErrReloadInProgress(name)
	}
	defer old.reloading.Store(false)

	m := old.manifest
	if fresh, err := LoadManifest(m.Path()); err != nil {
		h.logger.Warn("Failed to re-read manifest, reloading with the previous one",
			zap.String("module", name),
			zap.Error(err))
	} else {
		m = fresh
	}

	log := h.logger.With(zap.String("module", name), zap.String("strategy", m.ReloadStrategy))
	log.Info("Reloading module")

	if m.ReloadStrategy == ReloadRolling {
		next, err := h.start(ctx, m)
		if err != nil {
			log.Warn("New instance failed to start, keeping the running one", zap.Error(err))
			return err
		}
		h.replace(name, next)
		_, err = h.stop(ctx, old)
		return err
	}

	h.replace(name, nil)
	_, stopErr := h.stop(ctx, old)

	next, err := h.start(ctx, m)
	if err != nil {
		h.mu.Lock()
		delete(h.deployments, name)
		h.mu.Unlock()
		return multierr.Append(stopErr, err)
	}
	h.replace(name, next)
	return stopErr
}

// Call invokes an exported function of a deployed module
func (h *Host) Call(ctx context.Context, name, fn string, params ...uint64) ([]uint64, error) {
	d := h.lookup(name)
	if d == nil {
		return nil, ErrModuleNotFound(name, h.cfg.ModulesDir)
	}
	return d.app.Call(ctx, fn, params...)
}

// Deployments returns the names of running modules
func (h *Host) Deployments() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.deployments))
	for name, d := range h.deployments {
		if d != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Controller returns the lifecycle controller of a running module
func (h *Host) Controller(name string) (*lifecycle.Controller, bool) {
	d := h.lookup(name)
	if d == nil {
		return nil, false
	}
	return d.ctrl, true
}

// Shutdown undeploys every module and stops the shared timeout worker
func (h *Host) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	var running []*deployment
	for name, d := range h.deployments {
		if d != nil {
			running = append(running, d)
		}
		delete(h.deployments, name)
	}
	h.mu.Unlock()

	var (
		mu   sync.Mutex
		errs error
	)
	var g errgroup.Group
	g.SetLimit(maxConcurrentDeploys)
	for _, d := range running {
		d := d
		g.Go(func() error {
			_, err := h.stop(ctx, d)
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	managed.StopTimeoutWorker()
	h.root.Loader().Close()
	return errs
}

func (h *Host) lookup(name string) *deployment {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deployments[name]
}

func (h *Host) manifest(name string) (*Manifest, bool) {
	d := h.lookup(name)
	if d == nil {
		return nil, false
	}
	return d.manifest, true
}

func (h *Host) replace(name string, d *deployment) {
	h.mu.Lock()
	h.deployments[name] = d
	h.mu.Unlock()
}

func (h *Host) start(ctx context.Context, m *Manifest) (*deployment, error) {
	log := h.logger.With(zap.String("module", m.Name))

	classpath, err := m.DeclaredClasspath()
	if err != nil {
		return nil, ErrDeployFailed(m.Name, err)
	}

	module := container.New(m.Name, m.RootPath(), classpath, h.logger)
	ctrl, err := lifecycle.New(module, h.shared,
		lifecycle.WithLogger(h.logger),
		lifecycle.WithMetricsCollector(h.metrics),
		lifecycle.WithConfig(h.cfg.Lifecycle()))
	if err != nil {
		return nil, ErrDeployFailed(m.Name, err)
	}
	if err := ctrl.Start(ctx); err != nil {
		return nil, ErrDeployFailed(m.Name, err)
	}

	d := &deployment{manifest: m, module: module, ctrl: ctrl}
	if err := module.Start(ctx); err != nil {
		abandon(ctx, ctrl, log)
		return nil, ErrDeployFailed(m.Name, err)
	}

	d.app, err = startApplication(ctx, m, module, ctrl.Boundary(), h.cfg.CallTimeout, log)
	if err != nil {
		if _, stopErr := h.stop(ctx, d); stopErr != nil {
			log.Warn("Failed to stop module after failed start", zap.Error(stopErr))
		}
		return nil, ErrDeployFailed(m.Name, err)
	}

	log.Info("Module deployed", zap.Stringer("boundary", ctrl.Boundary()))
	return d, nil
}

// abandon stops a controller whose container never started, logging what
// the stop could not reclaim
func abandon(ctx context.Context, ctrl *lifecycle.Controller, log *zap.Logger) {
	report, err := ctrl.Stop(ctx)
	if err == nil {
		err = report.Err()
	}
	if err != nil {
		log.Warn("Failed to stop module after failed start", zap.Error(err))
	}
}

func (h *Host) stop(ctx context.Context, d *deployment) (reclaim.Report, error) {
	moduleErr := d.module.Stop(ctx)

	report, err := d.ctrl.Stop(ctx)
	if err != nil {
		return report, multierr.Append(moduleErr, err)
	}
	if rerr := report.Err(); rerr != nil {
		h.logger.Warn("Module stopped with reclaim failures",
			zap.String("module", d.manifest.Name),
			zap.Error(rerr))
	}
	return report, moduleErr
}
