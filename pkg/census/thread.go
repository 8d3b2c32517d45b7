package census

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/trinidad/trinidad/pkg/loader"
)

var threadSeq atomic.Uint64

// Thread is a tracked long-lived goroutine. Besides its name it carries a
// context loader: the isolation context code on the thread runs under, which
// keeps that context reachable for as long as the thread lives.
type Thread struct {
	id    uint64
	name  string
	group *Group

	contextLoader atomic.Pointer[loader.Context]
	cancel        context.CancelFunc
	done          chan struct{}
}

// Go starts fn on a new tracked thread in group (Main when nil). The thread
// leaves the census when fn returns. fn should return once ctx is done.
func Go(group *Group, name string, contextLoader *loader.Context, fn func(ctx context.Context)) *Thread {
	if group == nil {
		group = Main()
	}

	ctx, cancel := context.WithCancel(context.Background())
	th := &Thread{
		id:     threadSeq.Add(1),
		name:   name,
		group:  group,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	th.contextLoader.Store(contextLoader)

	// Registered before the goroutine starts so a census taken right after
	// Go returns always includes it
	group.add(th)

	go func() {
		defer close(th.done)
		defer group.remove(th)
		defer cancel()
		fn(ctx)
	}()

	return th
}

// ID returns the census-unique thread id
func (t *Thread) ID() uint64 {
	return t.id
}

// Name returns the thread name
func (t *Thread) Name() string {
	return t.name
}

// Group returns the owning group
func (t *Thread) Group() *Group {
	return t.group
}

// ContextLoader returns the context the thread currently runs under
func (t *Thread) ContextLoader() *loader.Context {
	return t.contextLoader.Load()
}

// SetContextLoader replaces the thread's context loader
func (t *Thread) SetContextLoader(l *loader.Context) {
	t.contextLoader.Store(l)
}

// CompareAndSetContextLoader swaps the context loader only if it is still old
func (t *Thread) CompareAndSetContextLoader(old, l *loader.Context) bool {
	return t.contextLoader.CompareAndSwap(old, l)
}

// Alive reports whether the thread function is still running
func (t *Thread) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Interrupt cancels the context handed to the thread function
func (t *Thread) Interrupt() {
	t.cancel()
}

// Join waits up to timeout for the thread to finish. A non-positive timeout
// waits forever.
func (t *Thread) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		<-t.done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done is closed when the thread finishes
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

func (t *Thread) String() string {
	return fmt.Sprintf("Thread[%s,%d,%s]", t.name, t.id, t.group.Name())
}
