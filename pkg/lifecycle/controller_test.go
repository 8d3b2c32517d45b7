package lifecycle

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trinidad/trinidad/pkg/census"
	"github.com/trinidad/trinidad/pkg/container"
	"github.com/trinidad/trinidad/pkg/driver"
	"github.com/trinidad/trinidad/pkg/loader"
	"github.com/trinidad/trinidad/pkg/managed"
	"github.com/trinidad/trinidad/pkg/reclaim"
	"github.com/trinidad/trinidad/pkg/security"
)

// answerModule exports "answer" () -> i32 returning 42
var answerModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0a, 0x01, 0x06, 'a', 'n', 's', 'w', 'e', 'r', 0x00, 0x00,
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x2a, 0x0b,
}

// moduleDir creates a module root with the given archives under lib/
func moduleDir(t *testing.T, archives ...string) (string, []string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))

	var classpath []string
	for _, name := range archives {
		f, err := os.Create(filepath.Join(root, "lib", name))
		require.NoError(t, err)
		zw := zip.NewWriter(f)
		_, err = zw.Create("META-INF/MANIFEST.MF")
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		require.NoError(t, f.Close())
		classpath = append(classpath, "lib/"+name)
	}
	return root, classpath
}

func newModule(t *testing.T, name string, archives ...string) *container.Module {
	t.Helper()
	root, classpath := moduleDir(t, archives...)
	return container.New(name, root, classpath, zaptest.NewLogger(t))
}

func TestController_FullLifecycle(t *testing.T) {
	const svc = "TEST-LIFECYCLE-FULL"
	ctx := context.Background()
	t.Cleanup(func() { security.Remove(svc) })

	host := NewRootBoundary("host")
	shared := host.NewChild("shared")
	module := newModule(t, "app", "app.jar", "trinidad-core-2.0.jar")

	ctrl, err := New(module, shared, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(ctx))
	require.NoError(t, module.Start(ctx))

	assert.Equal(t, StateStarted, ctrl.State())
	require.Len(t, ctrl.Units(), 1, "host archives are excluded")
	assert.True(t, strings.HasSuffix(ctrl.Units()[0].Path, "app.jar"))

	b := ctrl.Boundary()
	require.NotNil(t, b)
	assert.Same(t, shared, b.Parent())
	assert.Same(t, shared.Loader(), b.Loader().Parent())

	// the module creates a runtime and libraries inside it leak globally
	factory := managed.NewFactory(b.Loader())
	rt, err := factory.NewRuntime(ctx)
	require.NoError(t, err)
	require.NoError(t, rt.Instantiate(ctx, "app", answerModule))
	module.SetAttribute(managed.FactoryAttribute, factory)

	require.Greater(t, security.Add(security.NewProvider(svc, "leaked", rt.Loader())), 0)
	pg, err := driver.Load(rt.Loader(), driver.PostgreSQL)
	require.NoError(t, err)
	driver.Connect(pg)
	require.Len(t, census.ThreadsPinning(b.Loader()), 1)

	require.NoError(t, module.Stop(ctx))
	assert.Nil(t, module.Attribute(managed.FactoryAttribute))

	registry := reclaim.NewRegistry(reclaim.WithStrategies(reclaim.Defaults([]string{svc})...))
	ctrl.registry = registry

	report, err := ctrl.Stop(ctx)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 2, report.Count(reclaim.Reclaimed))

	assert.Equal(t, StateStopped, ctrl.State())
	assert.Nil(t, security.Get(svc))
	assert.Empty(t, census.ThreadsPinning(b.Loader()))
	assert.True(t, b.Released())
	assert.True(t, b.Loader().Closed())
	assert.True(t, rt.Closed(), "captured runtimes are closed with the boundary")

	// a second pass over the same boundary finds nothing left
	again := registry.Run(ctx, reclaim.Target{Module: "app", Boundary: b.Loader(), Runtimes: []*loader.Context{rt.Loader()}})
	assert.Equal(t, len(again.Outcomes), again.Count(reclaim.Skipped))
}

func TestController_NoSnapshotStillStops(t *testing.T) {
	const svc = "TEST-LIFECYCLE-NOSNAPSHOT"
	ctx := context.Background()
	t.Cleanup(func() { security.Remove(svc) })

	core, logs := observer.New(zapcore.InfoLevel)
	module := newModule(t, "app")
	ctrl, err := New(module, nil,
		WithLogger(zap.New(core)),
		WithConfig(Config{FastPathOnly: true, SecurityServices: []string{svc}}))
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(ctx))

	// registered by the module itself, the stop event never fires
	b := ctrl.Boundary()
	require.Greater(t, security.Add(security.NewProvider(svc, "leaked", b.Loader())), 0)

	report, err := ctrl.Stop(ctx)
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.Equal(t, StateStopped, ctrl.State())
	assert.Nil(t, security.Get(svc), "reclaimed by boundary identity")
	assert.Equal(t, 1, logs.FilterMessageSnippet("No managed runtime snapshot").Len())
}

func TestController_AncestorServiceSurvivesForcedStop(t *testing.T) {
	const svc = "TEST-LIFECYCLE-ANCESTOR"
	ctx := context.Background()
	t.Cleanup(func() { security.Remove(svc) })

	shared := NewRootBoundary("host").NewChild("shared")
	p := security.NewProvider(svc, "shared", shared.Loader())
	require.Greater(t, security.Add(p), 0)

	module := newModule(t, "app")
	cfg := DefaultConfig()
	cfg.ForceSecurityCleanup = true
	cfg.SecurityServices = []string{svc}

	ctrl, err := New(module, shared, WithConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(ctx))
	require.NoError(t, module.Start(ctx))
	require.NoError(t, module.Stop(ctx))

	report, err := ctrl.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Count(reclaim.Reclaimed))
	assert.Same(t, p, security.Get(svc))
}

func TestController_InvalidState(t *testing.T) {
	ctx := context.Background()
	ctrl, err := New(newModule(t, "app"), nil)
	require.NoError(t, err)

	_, err = ctrl.Stop(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))

	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "Created", lerr.Context["state"])

	require.NoError(t, ctrl.Start(ctx))
	assert.True(t, errors.Is(ctrl.Start(ctx), ErrInvalidState))

	_, err = ctrl.Stop(ctx)
	require.NoError(t, err)

	_, err = ctrl.Stop(ctx)
	assert.True(t, errors.Is(err, ErrInvalidState), "stopped controllers cannot stop again")
	assert.True(t, errors.Is(ctrl.Start(ctx), ErrInvalidState), "stopped controllers cannot restart")
}

func TestController_ScanFailureKeepsCreated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl, err := New(newModule(t, "app", "a.jar"), nil)
	require.NoError(t, err)

	err = ctrl.Start(ctx)
	require.Error(t, err)
	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, ErrorCodeScanFailed, lerr.Code)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCreated, ctrl.State())
	assert.Nil(t, ctrl.Boundary())
}

func TestController_InvalidConfig(t *testing.T) {
	_, err := New(newModule(t, "app"), nil, WithConfig(Config{Exclusions: []string{"[unclosed"}}))
	require.Error(t, err)

	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, ErrorCodeInvalidConfiguration, lerr.Code)
}

func TestController_RepairsTimeoutWorker(t *testing.T) {
	managed.StopTimeoutWorker()
	t.Cleanup(managed.StopTimeoutWorker)

	ctx := context.Background()
	shared := NewRootBoundary("host").NewChild("shared")
	module := newModule(t, "app")

	ctrl, err := New(module, shared)
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(ctx))
	require.NoError(t, module.Start(ctx))

	b := ctrl.Boundary()
	factory := managed.NewFactory(b.Loader())
	rt, err := factory.NewRuntime(ctx)
	require.NoError(t, err)
	require.NoError(t, rt.Instantiate(ctx, "app", answerModule))
	module.SetAttribute(managed.FactoryAttribute, factory)

	_, err = rt.Call(ctx, "app", "answer", time.Minute)
	require.NoError(t, err)

	var worker *census.Thread
	for _, th := range census.ThreadsMatching(managed.WorkerThreadPart) {
		if th.ContextLoader() == b.Loader() {
			worker = th
		}
	}
	require.NotNil(t, worker, "the first timed call pins the shared worker to the boundary")

	require.NoError(t, module.Stop(ctx))
	_, err = ctrl.Stop(ctx)
	require.NoError(t, err)

	assert.True(t, worker.Alive(), "the shared worker outlives the module")
	assert.Same(t, shared.Loader(), worker.ContextLoader())
	assert.Empty(t, census.ThreadsPinning(b.Loader()))
}

func TestController_ReportsUnknownLeaks(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	metrics := NewPrometheusMetricsCollector("test")

	module := newModule(t, "app")
	ctrl, err := New(module, nil, WithLogger(zap.New(core)), WithMetricsCollector(metrics))
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(ctx))

	leak := census.Go(nil, "unknown-library-thread", ctrl.Boundary().Loader(), func(ctx context.Context) {
		<-ctx.Done()
	})
	t.Cleanup(func() {
		leak.Interrupt()
		leak.Join(time.Second)
	})

	_, err = ctrl.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateStopped, ctrl.State())
	assert.True(t, leak.Alive(), "unknown leaks are reported, not fixed")
	assert.Equal(t, 1, logs.FilterMessage("Thread still pins stopped module").Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.leakedThreads.WithLabelValues("app")))
}

func TestPrometheusMetricsCollector_Lifecycle(t *testing.T) {
	ctx := context.Background()
	metrics := NewPrometheusMetricsCollector("test")

	module := newModule(t, "app", "a.jar", "b.jar")
	ctrl, err := New(module, nil, WithMetricsCollector(metrics))
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(ctx))
	_, err = ctrl.Stop(ctx)
	require.NoError(t, err)

	expected := `
		# HELP test_lifecycle_state_transitions_total Total number of module lifecycle state transitions
		# TYPE test_lifecycle_state_transitions_total counter
		test_lifecycle_state_transitions_total{from_state="Created",module="app",to_state="Started"} 1
		test_lifecycle_state_transitions_total{from_state="Started",module="app",to_state="Stopping"} 1
		test_lifecycle_state_transitions_total{from_state="Stopping",module="app",to_state="Stopped"} 1
	`
	err = testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "test_lifecycle_state_transitions_total")
	assert.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.scanUnits.WithLabelValues("app", "archive")))

	// the default registry reports through the same collector
	count, err := testutil.GatherAndCount(metrics.Registry(), "test_reclaim_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, len(reclaim.Defaults(DefaultConfig().SecurityServices)), count)

	count, err = testutil.GatherAndCount(metrics.Registry(), "test_lifecycle_stop_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusMetricsCollector_CensusThreads(t *testing.T) {
	metrics := NewPrometheusMetricsCollector("test")

	th := census.Go(nil, "metrics-probe", nil, func(ctx context.Context) { <-ctx.Done() })
	t.Cleanup(func() {
		th.Interrupt()
		th.Join(time.Second)
	})

	count, err := testutil.GatherAndCount(metrics.Registry(), "test_census_threads")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.threads), float64(1))
}
