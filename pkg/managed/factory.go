package managed

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/trinidad/trinidad/pkg/loader"
)

// Option configures the Factory
type Option func(*Factory)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithMemoryLimitPages caps the linear memory of each runtime
func WithMemoryLimitPages(pages uint32) Option {
	return func(f *Factory) {
		f.memoryLimitPages = pages
	}
}

// Factory creates and tracks the runtimes of one module
type Factory struct {
	boundary *loader.Context
	logger   *zap.Logger

	memoryLimitPages uint32

	mu       sync.Mutex
	seq      int
	runtimes []*WasmRuntime
}

// NewFactory creates a factory whose runtimes live below boundary
func NewFactory(boundary *loader.Context, opts ...Option) *Factory {
	f := &Factory{
		boundary: boundary,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewRuntime creates a runtime with its own child context
func (f *Factory) NewRuntime(ctx context.Context) (*WasmRuntime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.boundary.Closed() {
		return nil, fmt.Errorf("boundary %s is closed", f.boundary)
	}

	f.seq++
	id := fmt.Sprintf("%s/runtime-%d", f.boundary.Name(), f.seq)

	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if f.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(f.memoryLimitPages)
	}

	rt := &WasmRuntime{
		id:       id,
		boundary: f.boundary,
		loader:   f.boundary.NewChild(fmt.Sprintf("runtime-%d", f.seq)),
		engine:   wazero.NewRuntimeWithConfig(ctx, cfg),
		logger:   f.logger.With(zap.String("runtime", id)),
	}
	f.runtimes = append(f.runtimes, rt)

	f.logger.Debug("Created managed runtime",
		zap.String("runtime", id),
		zap.Stringer("loader", rt.loader))
	return rt, nil
}

// ManagedRuntimes returns the runtimes not closed yet, in creation order
func (f *Factory) ManagedRuntimes() ([]Runtime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Runtime, 0, len(f.runtimes))
	for _, rt := range f.runtimes {
		if !rt.Closed() {
			out = append(out, rt)
		}
	}
	return out, nil
}

// Destroy closes every runtime the factory created
func (f *Factory) Destroy(ctx context.Context) error {
	f.mu.Lock()
	runtimes := f.runtimes
	f.runtimes = nil
	f.mu.Unlock()

	var err error
	for _, rt := range runtimes {
		err = multierr.Append(err, rt.Close(ctx))
	}
	return err
}

var _ Provider = (*Factory)(nil)
