// Package reclaim removes process-wide resources that libraries loaded by a
// module left behind in shared global state.
//
// Each Strategy handles one known leak pattern. Strategies never decide
// ownership by comparing against "the current module": they walk loader
// chains, so anything registered by an ancestor of the module is left alone.
// Leaks no strategy knows about are reported, not fixed.
package reclaim

import (
	"context"

	"github.com/trinidad/trinidad/pkg/loader"
)

// Result is the outcome kind of one strategy run
type Result int

const (
	// Skipped means the strategy found nothing it was allowed to touch
	Skipped Result = iota
	// Reclaimed means a leaked resource was released
	Reclaimed
	// Failed means the strategy hit an error; later strategies still run
	Failed
)

// String returns the string representation of a Result
func (r Result) String() string {
	switch r {
	case Skipped:
		return "skipped"
	case Reclaimed:
		return "reclaimed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome records what a strategy did
type Outcome struct {
	Strategy string
	Result   Result

	// Reason is set for failures
	Reason error

	// Detail is a short human readable explanation for logs
	Detail string

	// Forced is set when a resource was reclaimed only because the target
	// asked for forced cleanup
	Forced bool
}

// Target is the dying module as strategies see it
type Target struct {
	// Module is the module name, for logs
	Module string

	// Boundary is the module's isolation context
	Boundary *loader.Context

	// Runtimes are the contexts of the managed runtimes captured when the
	// module stopped. Empty when no snapshot was taken.
	Runtimes []*loader.Context

	// Force reclaims registrations whose ownership cannot be attributed
	Force bool
}

// Owns reports whether ctx is the boundary or one of the captured runtime
// contexts
func (t Target) Owns(ctx *loader.Context) bool {
	if ctx == nil {
		return false
	}
	if ctx == t.Boundary {
		return true
	}
	for _, rt := range t.Runtimes {
		if ctx == rt {
			return true
		}
	}
	return false
}

// Candidates returns the contexts probed for driver types: the runtime
// contexts, or the boundary itself when none were captured
func (t Target) Candidates() []*loader.Context {
	if len(t.Runtimes) > 0 {
		return t.Runtimes
	}
	if t.Boundary == nil {
		return nil
	}
	return []*loader.Context{t.Boundary}
}

// Strategy reclaims one kind of leaked resource. Implementations hold no
// state between runs and may run in any order.
type Strategy interface {
	Name() string
	Reclaim(ctx context.Context, t Target) Outcome
}

func skipped(name, detail string) Outcome {
	return Outcome{Strategy: name, Result: Skipped, Detail: detail}
}

func reclaimed(name, detail string) Outcome {
	return Outcome{Strategy: name, Result: Reclaimed, Detail: detail}
}

func failed(name string, err error) Outcome {
	return Outcome{Strategy: name, Result: Failed, Reason: err, Detail: err.Error()}
}
