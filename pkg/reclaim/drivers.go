package reclaim

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/trinidad/trinidad/pkg/census"
	"github.com/trinidad/trinidad/pkg/driver"
	"github.com/trinidad/trinidad/pkg/loader"
)

// DriverThreadReclaimer stops a driver's background thread started from
// within the module
type DriverThreadReclaimer struct {
	variant driver.Variant
}

// NewDriverThreadReclaimer creates a reclaimer for a thread variant
func NewDriverThreadReclaimer(v driver.Variant) *DriverThreadReclaimer {
	return &DriverThreadReclaimer{variant: v}
}

// Name returns the strategy name
func (d *DriverThreadReclaimer) Name() string {
	return "driver-thread:" + d.variant.Name
}

// Reclaim shuts down matching threads whose context loader belongs to the
// target and whose driver type was defined by the target
func (d *DriverThreadReclaimer) Reclaim(_ context.Context, t Target) Outcome {
	name := d.Name()

	var (
		errs []error
		done int
		seen = make(map[*loader.Type]struct{})
	)
	for _, th := range census.ThreadsMatching(d.variant.ThreadName) {
		if !th.Alive() {
			continue
		}
		cl := th.ContextLoader()
		if !t.Owns(cl) {
			continue
		}

		h, ok := driver.TryLoad(cl, d.variant, false)
		if !ok || !t.Owns(h.LoadedBy()) {
			continue
		}
		if _, dup := seen[h.Type]; dup {
			continue
		}
		seen[h.Type] = struct{}{}

		ok, err := driver.ShutdownThread(h)
		if err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", th, err))
			continue
		}
		if ok {
			done++
		}
	}

	if err := multierr.Combine(errs...); err != nil {
		return failed(name, err)
	}
	if done == 0 {
		return skipped(name, "no driver thread owned by the module")
	}
	return reclaimed(name, fmt.Sprintf("stopped %d cleanup thread(s)", done))
}

// DriverTimerReclaimer releases timer tasks a driver keeps scheduled on
// behalf of the module
type DriverTimerReclaimer struct {
	variant driver.Variant
}

// NewDriverTimerReclaimer creates a reclaimer for a timer variant
func NewDriverTimerReclaimer(v driver.Variant) *DriverTimerReclaimer {
	return &DriverTimerReclaimer{variant: v}
}

// Name returns the strategy name
func (d *DriverTimerReclaimer) Name() string {
	return "driver-timer:" + d.variant.Name
}

// Reclaim probes each candidate context for a driver type it loaded itself
// and actually used, then releases its timer
func (d *DriverTimerReclaimer) Reclaim(_ context.Context, t Target) Outcome {
	name := d.Name()

	var (
		errs []error
		done int
	)
	for _, c := range t.Candidates() {
		h, ok := driver.TryLoad(c, d.variant, true)
		if !ok || !h.Instantiated() {
			continue
		}

		released, err := driver.ReleaseTimer(h)
		if err != nil {
			errs = append(errs, fmt.Errorf("release %s in %s: %w", d.variant.TypeName, c, err))
			continue
		}
		if released {
			done++
		}
	}

	if err := multierr.Combine(errs...); err != nil {
		return failed(name, err)
	}
	if done == 0 {
		return skipped(name, "no timer held by the module")
	}
	return reclaimed(name, fmt.Sprintf("released %d timer(s)", done))
}

// Defaults returns the known strategies: one per security service name and
// one per driver variant
func Defaults(services []string) []Strategy {
	strategies := make([]Strategy, 0, len(services)+len(driver.Variants()))
	for _, svc := range services {
		strategies = append(strategies, NewSecurityServiceReclaimer(svc))
	}
	for _, v := range driver.Variants() {
		switch v.Kind {
		case driver.KindThread:
			strategies = append(strategies, NewDriverThreadReclaimer(v))
		case driver.KindTimer:
			strategies = append(strategies, NewDriverTimerReclaimer(v))
		}
	}
	return strategies
}
