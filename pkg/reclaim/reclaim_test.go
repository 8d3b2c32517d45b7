package reclaim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trinidad/trinidad/pkg/census"
	"github.com/trinidad/trinidad/pkg/driver"
	"github.com/trinidad/trinidad/pkg/loader"
	"github.com/trinidad/trinidad/pkg/managed"
	"github.com/trinidad/trinidad/pkg/security"
)

// module builds host -> boundary -> runtime and the matching target
func module(host *loader.Context, name string) (Target, *loader.Context) {
	boundary := host.NewChild(name)
	rt := boundary.NewChild("runtime-1")
	return Target{Module: name, Boundary: boundary, Runtimes: []*loader.Context{rt}}, rt
}

func register(t *testing.T, name string, loadedBy *loader.Context) *security.Provider {
	t.Helper()
	p := security.NewProvider(name, "test", loadedBy)
	require.Greater(t, security.Add(p), 0)
	t.Cleanup(func() { security.Remove(name) })
	return p
}

func TestSecurityService_AncestorOwnedNeverReclaimed(t *testing.T) {
	const svc = "TEST-ANCESTOR"
	host := loader.NewRoot("host")
	shared := host.NewChild("shared")
	target, _ := module(shared, "app")
	target.Force = true

	p := register(t, svc, shared)

	out := NewSecurityServiceReclaimer(svc).Reclaim(context.Background(), target)
	assert.Equal(t, Skipped, out.Result)
	assert.Same(t, p, security.Get(svc))

	hostOwned := "TEST-ANCESTOR-HOST"
	register(t, hostOwned, host)
	out = NewSecurityServiceReclaimer(hostOwned).Reclaim(context.Background(), target)
	assert.Equal(t, Skipped, out.Result, "any ancestor counts, not just the parent")
	assert.NotNil(t, security.Get(hostOwned))
}

func TestSecurityService_RuntimeOwnedReclaimed(t *testing.T) {
	const svc = "TEST-RUNTIME"
	target, rt := module(loader.NewRoot("host"), "app")
	register(t, svc, rt.NewChild("library"))

	out := NewSecurityServiceReclaimer(svc).Reclaim(context.Background(), target)
	assert.Equal(t, Reclaimed, out.Result)
	assert.False(t, out.Forced)
	assert.Nil(t, security.Get(svc))
}

func TestSecurityService_BoundaryFallback(t *testing.T) {
	const svc = "TEST-FALLBACK"
	target, _ := module(loader.NewRoot("host"), "app")

	register(t, svc, target.Boundary)

	out := NewSecurityServiceReclaimer(svc).Reclaim(context.Background(), target)
	assert.Equal(t, Skipped, out.Result, "with runtimes captured only their contexts are attributed")
	assert.NotNil(t, security.Get(svc))

	target.Runtimes = nil
	out = NewSecurityServiceReclaimer(svc).Reclaim(context.Background(), target)
	assert.Equal(t, Reclaimed, out.Result)
	assert.Nil(t, security.Get(svc))
}

func TestSecurityService_SiblingKeepsRegistration(t *testing.T) {
	const svc = "TEST-SIBLING"
	host := loader.NewRoot("host")
	first, firstRuntime := module(host, "first")
	second, secondRuntime := module(host, "second")

	p := register(t, svc, firstRuntime)
	assert.Equal(t, -1, security.Add(security.NewProvider(svc, "test", secondRuntime)))

	registry := NewRegistry(WithStrategies(NewSecurityServiceReclaimer(svc)))
	report := registry.Run(context.Background(), second)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, Skipped, report.Outcomes[0].Result)
	assert.Same(t, p, security.Get(svc), "registration of the running sibling remains")

	report = registry.Run(context.Background(), first)
	assert.Equal(t, Reclaimed, report.Outcomes[0].Result)
	assert.Nil(t, security.Get(svc))
}

func TestSecurityService_Force(t *testing.T) {
	const svc = "TEST-FORCE"
	host := loader.NewRoot("host")
	target, _ := module(host, "app")
	register(t, svc, host.NewChild("unrelated"))

	core, logs := observer.New(zapcore.DebugLevel)
	registry := NewRegistry(
		WithLogger(zap.New(core)),
		WithStrategies(NewSecurityServiceReclaimer(svc)),
	)

	report := registry.Run(context.Background(), target)
	assert.Equal(t, Skipped, report.Outcomes[0].Result)
	assert.NotNil(t, security.Get(svc))

	target.Force = true
	report = registry.Run(context.Background(), target)
	assert.Equal(t, Reclaimed, report.Outcomes[0].Result)
	assert.True(t, report.Outcomes[0].Forced)
	assert.Nil(t, security.Get(svc))

	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len(), "forced cleanup warns")
}

func TestDriverTimer_M1M2(t *testing.T) {
	host := loader.NewRoot("host")
	m1, m1Runtime := module(host, "m1")
	m2, m2Runtime := module(host, "m2")

	h, err := driver.Load(m1Runtime, driver.PostgreSQL)
	require.NoError(t, err)
	driver.Connect(h)

	// m2 loaded the driver but never used it
	_, err = driver.Load(m2Runtime, driver.PostgreSQL)
	require.NoError(t, err)

	strategy := NewDriverTimerReclaimer(driver.PostgreSQL)

	out := strategy.Reclaim(context.Background(), m1)
	assert.Equal(t, Reclaimed, out.Result)
	assert.Empty(t, census.ThreadsPinning(m1.Boundary))

	out = strategy.Reclaim(context.Background(), m2)
	assert.Equal(t, Skipped, out.Result)
}

func TestDriverTimer_HostLoadedDriverUntouched(t *testing.T) {
	host := loader.NewRoot("host")
	h, err := driver.Load(host, driver.MariaDB)
	require.NoError(t, err)
	driver.Connect(h)
	t.Cleanup(func() { _, _ = driver.ReleaseTimer(h) })

	target, _ := module(host, "app")
	out := NewDriverTimerReclaimer(driver.MariaDB).Reclaim(context.Background(), target)
	assert.Equal(t, Skipped, out.Result)
	assert.Len(t, census.ThreadsPinning(host), 1)
}

type noCapability struct{}

func TestDriverTimer_MissingCapabilityFails(t *testing.T) {
	target, rt := module(loader.NewRoot("host"), "app")
	typ, err := rt.Define(driver.PostgreSQL.TypeName, noCapability{})
	require.NoError(t, err)
	typ.Instantiate()

	out := NewDriverTimerReclaimer(driver.PostgreSQL).Reclaim(context.Background(), target)
	assert.Equal(t, Failed, out.Result)
	assert.True(t, errors.Is(out.Reason, driver.ErrNoCapability))
}

func TestDriverThread_Reclaim(t *testing.T) {
	host := loader.NewRoot("host")
	target, _ := module(host, "app")

	h, err := driver.Load(target.Boundary, driver.MySQL)
	require.NoError(t, err)
	driver.Connect(h)
	require.Len(t, census.ThreadsPinning(target.Boundary), 1)

	strategy := NewDriverThreadReclaimer(driver.MySQL)

	other, _ := module(host, "other")
	assert.Equal(t, Skipped, strategy.Reclaim(context.Background(), other).Result)
	assert.Len(t, census.ThreadsPinning(target.Boundary), 1)

	out := strategy.Reclaim(context.Background(), target)
	assert.Equal(t, Reclaimed, out.Result)
	assert.Empty(t, census.ThreadsPinning(target.Boundary))
}

func TestRegistry_SecondRunOnlySkips(t *testing.T) {
	const svc = "TEST-IDEMPOTENT"
	host := loader.NewRoot("host")
	target, rt := module(host, "app")

	register(t, svc, rt)
	for _, v := range driver.Variants() {
		h, err := driver.Load(rt, v)
		require.NoError(t, err)
		driver.Connect(h)
	}

	registry := NewRegistry(WithStrategies(Defaults([]string{svc})...))

	first := registry.Run(context.Background(), target)
	require.NoError(t, first.Err())
	assert.Equal(t, len(first.Outcomes), first.Count(Reclaimed))

	second := registry.Run(context.Background(), target)
	require.NoError(t, second.Err())
	assert.Equal(t, len(second.Outcomes), second.Count(Skipped))
}

type panicking struct{}

func (panicking) Name() string { return "panicking" }

func (panicking) Reclaim(context.Context, Target) Outcome { panic("vendor bug") }

type counting struct{ runs int }

func (c *counting) Name() string { return "counting" }

func (c *counting) Reclaim(context.Context, Target) Outcome {
	c.runs++
	return skipped(c.Name(), "")
}

func TestRegistry_FailureIsolation(t *testing.T) {
	after := &counting{}
	core, logs := observer.New(zapcore.DebugLevel)
	registry := NewRegistry(WithLogger(zap.New(core)))
	registry.Register(panicking{})
	registry.Register(after)

	target, _ := module(loader.NewRoot("host"), "app")
	report := registry.Run(context.Background(), target)

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, Failed, report.Outcomes[0].Result)
	assert.Equal(t, 1, after.runs, "later strategies still run")
	assert.ErrorContains(t, report.Err(), "panicking")

	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.DebugLevel).Len())
}

type recordingMetrics struct {
	outcomes map[Result]int
	repaired int
}

func (m *recordingMetrics) ReclaimOutcome(_ string, result Result) {
	if m.outcomes == nil {
		m.outcomes = make(map[Result]int)
	}
	m.outcomes[result]++
}

func (m *recordingMetrics) WorkersRepaired(n int) {
	m.repaired += n
}

func TestRegistry_RepairWorkerContexts(t *testing.T) {
	host := loader.NewRoot("host")
	boundary := host.NewChild("app")
	other := host.NewChild("other")

	block := func(ctx context.Context) { <-ctx.Done() }
	name := managed.WorkerThreadMarker + "-99-" + managed.WorkerThreadPart + "1"
	pinned := census.Go(nil, name, boundary, block)
	foreign := census.Go(nil, name, other, block)
	unrelated := census.Go(nil, "Library-"+managed.WorkerThreadPart+"1", boundary, block)
	t.Cleanup(func() {
		for _, th := range []*census.Thread{pinned, foreign, unrelated} {
			th.Interrupt()
			th.Join(time.Second)
		}
	})

	metrics := &recordingMetrics{}
	registry := NewRegistry(WithMetricsCollector(metrics))

	assert.Equal(t, 1, registry.RepairWorkerContexts(boundary))
	assert.Same(t, host, pinned.ContextLoader())
	assert.Same(t, other, foreign.ContextLoader())
	assert.Same(t, boundary, unrelated.ContextLoader(), "only runtime workers are repaired")
	assert.Equal(t, 1, metrics.repaired)

	assert.Equal(t, 0, registry.RepairWorkerContexts(boundary))
	assert.Equal(t, 0, registry.RepairWorkerContexts(nil))
}

func TestTarget_Candidates(t *testing.T) {
	boundary := loader.NewRoot("app")
	assert.Equal(t, []*loader.Context{boundary}, Target{Boundary: boundary}.Candidates())
	assert.Nil(t, Target{}.Candidates())

	rt := boundary.NewChild("runtime")
	target := Target{Boundary: boundary, Runtimes: []*loader.Context{rt}}
	assert.Equal(t, []*loader.Context{rt}, target.Candidates())
	assert.True(t, target.Owns(boundary))
	assert.True(t, target.Owns(rt))
	assert.False(t, target.Owns(rt.NewChild("nested")))
	assert.False(t, target.Owns(nil))
}
