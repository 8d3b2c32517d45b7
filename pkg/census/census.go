// Package census answers process-wide inventory questions used before any
// shared state is touched: which threads are alive, what they run under, and
// whether an object was loaded by a given isolation context.
//
// Every listing is a best-effort snapshot. Threads start and stop
// concurrently, so callers re-check whatever they act on.
package census

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/trinidad/trinidad/pkg/loader"
)

// enumerationSlack is added to the active count guess before enumerating
const enumerationSlack = 50

// AllThreads enumerates every thread of the process tree. The buffer is
// doubled until the enumeration no longer fills it, since a full buffer may
// mean threads were silently dropped. The result has no nil slots and no
// duplicates, but can miss threads started after the enumeration began.
func AllThreads() []*Thread {
	group := Main()
	for group.Parent() != nil {
		group = group.Parent()
	}

	guess := group.ActiveCount() + enumerationSlack
	for {
		buf := make([]*Thread, guess)
		n := group.Enumerate(buf)
		if n < guess {
			return buf[:n]
		}
		guess *= 2
	}
}

// ThreadsMatching returns live threads whose name contains namePart
func ThreadsMatching(namePart string) []*Thread {
	var matched []*Thread
	for _, th := range AllThreads() {
		if strings.Contains(th.Name(), namePart) {
			matched = append(matched, th)
		}
	}
	return matched
}

// ThreadsPinning returns threads whose context loader is ctx or one of its
// descendants. Such threads keep ctx reachable after it is released.
func ThreadsPinning(ctx *loader.Context) []*Thread {
	var pinned []*Thread
	for _, th := range AllThreads() {
		if cl := th.ContextLoader(); cl != nil && cl.Within(ctx) {
			pinned = append(pinned, th)
		}
	}
	return pinned
}

// IsOwnedBy reports whether obj was loaded by ctx. With transitiveAncestors
// the ancestors of ctx count as well, which is how resources shared through
// a parent boundary are recognised.
func IsOwnedBy(obj loader.Origin, ctx *loader.Context, transitiveAncestors bool) bool {
	if obj == nil || ctx == nil {
		return false
	}
	origin := obj.LoadedBy()
	if origin == nil {
		return false
	}

	for cur := ctx; cur != nil; cur = cur.Parent() {
		if origin == cur {
			return true
		}
		if !transitiveAncestors {
			break
		}
	}
	return false
}

// IsLoadedWithin reports whether obj was loaded by ctx or by a context
// below it, walking the object's own loader chain.
func IsLoadedWithin(obj loader.Origin, ctx *loader.Context) bool {
	if obj == nil || ctx == nil {
		return false
	}
	origin := obj.LoadedBy()
	return origin != nil && origin.Within(ctx)
}

// Goroutines returns a dump of all goroutine stacks, growing the buffer
// until the dump is complete.
func Goroutines() []byte {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

// NativeThreads returns the number of OS threads of the host process.
// Only supported where procfs is available.
func NativeThreads() (int, error) {
	proc, err := procfs.Self()
	if err != nil {
		return 0, fmt.Errorf("open procfs: %w", err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, fmt.Errorf("read process stat: %w", err)
	}
	return stat.NumThreads, nil
}
