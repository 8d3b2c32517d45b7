package managed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/trinidad/trinidad/pkg/loader"
)

// WasmRuntime is a wazero runtime owned by one module
type WasmRuntime struct {
	id       string
	boundary *loader.Context
	loader   *loader.Context
	engine   wazero.Runtime
	logger   *zap.Logger

	mu      sync.Mutex
	modules map[string]api.Module
	closed  bool
}

// ID returns the runtime identifier
func (r *WasmRuntime) ID() string {
	return r.id
}

// Loader returns the runtime's isolation context
func (r *WasmRuntime) Loader() *loader.Context {
	return r.loader
}

// Closed reports whether Close was called
func (r *WasmRuntime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Instantiate compiles and instantiates a wasm binary under name
func (r *WasmRuntime) Instantiate(ctx context.Context, name string, wasm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("runtime %s is closed", r.id)
	}
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module %q already instantiated in %s", name, r.id)
	}

	compiled, err := r.engine.CompileModule(ctx, wasm)
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}
	mod, err := r.engine.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return fmt.Errorf("instantiate %s: %w", name, err)
	}

	if r.modules == nil {
		r.modules = make(map[string]api.Module)
	}
	r.modules[name] = mod

	r.logger.Debug("Instantiated wasm module", zap.String("name", name))
	return nil
}

// Call invokes an exported function. A positive timeout is enforced by the
// shared timeout worker; an interrupted call closes the wasm instance.
func (r *WasmRuntime) Call(ctx context.Context, module, fn string, timeout time.Duration, params ...uint64) ([]uint64, error) {
	r.mu.Lock()
	mod, ok := r.modules[module]
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("runtime %s is closed", r.id)
	}
	if !ok {
		return nil, fmt.Errorf("module %q not instantiated in %s", module, r.id)
	}
	f := mod.ExportedFunction(fn)
	if f == nil {
		return nil, fmt.Errorf("module %q exports no function %q", module, fn)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if timeout > 0 {
		timeoutWorkerFor(r.boundary).schedule(time.Now().Add(timeout), cancel, callCtx.Done())
	}

	results, err := f.Call(callCtx, params...)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", module, fn, err)
	}
	return results, nil
}

// Close closes the wazero runtime. The runtime's context stays open: types
// it loaded remain attributable until the owning boundary is released.
func (r *WasmRuntime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.modules = nil
	r.mu.Unlock()

	err := r.engine.Close(ctx)

	r.logger.Debug("Closed managed runtime")
	return err
}

var _ Runtime = (*WasmRuntime)(nil)
