package host

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/trinidad/trinidad/pkg/container"
	"github.com/trinidad/trinidad/pkg/driver"
	"github.com/trinidad/trinidad/pkg/lifecycle"
	"github.com/trinidad/trinidad/pkg/managed"
	"github.com/trinidad/trinidad/pkg/security"
)

// Application is a running module: one managed runtime holding the
// module's wasm entrypoint, plus the drivers and security providers the
// module loads into it
type Application struct {
	manifest    *Manifest
	factory     *managed.Factory
	runtime     *managed.WasmRuntime
	callTimeout time.Duration
	logger      *zap.Logger
}

func startApplication(ctx context.Context, m *Manifest, module *container.Module, b *lifecycle.Boundary, callTimeout time.Duration, logger *zap.Logger) (*Application, error) {
	factory := managed.NewFactory(b.Loader(),
		managed.WithLogger(logger),
		managed.WithMemoryLimitPages(m.MemoryLimitPages))

	rt, err := factory.NewRuntime(ctx)
	if err != nil {
		return nil, err
	}
	app := &Application{
		manifest:    m,
		factory:     factory,
		runtime:     rt,
		callTimeout: callTimeout,
		logger:      logger,
	}

	// published before anything can fail so the controller sees the runtime
	module.SetAttribute(managed.FactoryAttribute, factory)
	module.AddShutdownHook(factory.Destroy)

	if m.Entrypoint != "" {
		wasm, err := os.ReadFile(m.EntrypointPath())
		if err != nil {
			return nil, fmt.Errorf("read entrypoint: %w", err)
		}
		if err := rt.Instantiate(ctx, m.Name, wasm); err != nil {
			return nil, err
		}
		if m.Init != "" {
			if _, err := app.Call(ctx, m.Init); err != nil {
				return nil, fmt.Errorf("init: %w", err)
			}
		}
	}

	for _, name := range m.Drivers {
		v, _ := driver.Lookup(name)
		h, err := driver.Load(rt.Loader(), v)
		if err != nil {
			return nil, fmt.Errorf("load driver %s: %w", name, err)
		}
		driver.Connect(h)
	}

	for _, svc := range m.SecurityProviders {
		p := security.NewProvider(svc, m.Name, rt.Loader())
		if pos := security.Add(p); pos < 0 {
			logger.Debug("Security service already registered", zap.String("service", svc))
		}
	}

	return app, nil
}

// Call invokes an exported function of the module's entrypoint
func (a *Application) Call(ctx context.Context, fn string, params ...uint64) ([]uint64, error) {
	return a.runtime.Call(ctx, a.manifest.Name, fn, a.callTimeout, params...)
}

// Runtime returns the module's managed runtime
func (a *Application) Runtime() *managed.WasmRuntime {
	return a.runtime
}
