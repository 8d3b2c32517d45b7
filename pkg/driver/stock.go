package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trinidad/trinidad/pkg/census"
	"github.com/trinidad/trinidad/pkg/loader"
)

// joinTimeout bounds how long a shutdown waits for a driver thread to exit
const joinTimeout = 5 * time.Second

// Load defines the variant's type in ctx, the way a module picks up a driver
// archive from its lib directory. Nothing is started until Connect.
func Load(ctx *loader.Context, v Variant) (Handle, error) {
	var statics any
	switch v {
	case MySQL:
		statics = &cleanupThread{worker: worker{name: v.ThreadName}}
	case MariaDB:
		statics = &statementTimer{worker: worker{name: v.ThreadName}}
	case PostgreSQL:
		statics = &sharedTimer{worker: worker{name: v.ThreadName + "1"}}
	default:
		return Handle{}, fmt.Errorf("unknown driver variant %q", v.Name)
	}

	t, err := ctx.Define(v.TypeName, statics)
	if err != nil {
		return Handle{}, err
	}
	return Handle{Type: t}, nil
}

// connector is implemented by stock drivers that start background work on
// first use
type connector interface {
	connect(loadedBy *loader.Context)
}

// Connect records a use of the driver. The first use starts the driver's
// background thread under the defining context, which is what pins the
// module after it stops.
func Connect(h Handle) {
	h.Instantiate()
	if c, ok := h.Statics().(connector); ok {
		c.connect(h.LoadedBy())
	}
}

// worker is a driver-owned background thread started once
type worker struct {
	name string

	mu     sync.Mutex
	thread *census.Thread
}

func (w *worker) start(loadedBy *loader.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.thread != nil {
		return false
	}
	w.thread = census.Go(census.System(), w.name, loadedBy, func(ctx context.Context) {
		<-ctx.Done()
	})
	return true
}

func (w *worker) stop() (bool, error) {
	w.mu.Lock()
	th := w.thread
	w.thread = nil
	w.mu.Unlock()

	if th == nil {
		return false, nil
	}
	th.Interrupt()
	if !th.Join(joinTimeout) {
		return true, fmt.Errorf("thread %s did not exit within %s", th.Name(), joinTimeout)
	}
	return true, nil
}

type cleanupThread struct {
	worker
}

func (c *cleanupThread) connect(loadedBy *loader.Context) {
	c.start(loadedBy)
}

func (c *cleanupThread) ShutdownThread() error {
	_, err := c.stop()
	return err
}

// sharedTimer is reference counted by connections
type sharedTimer struct {
	worker
}

func (s *sharedTimer) connect(loadedBy *loader.Context) {
	s.start(loadedBy)
}

func (s *sharedTimer) ReleaseSharedTimer() (bool, error) {
	return s.stop()
}

// statementTimer only knows how to purge its pending tasks
type statementTimer struct {
	worker
}

func (s *statementTimer) connect(loadedBy *loader.Context) {
	s.start(loadedBy)
}

func (s *statementTimer) PurgeTimerTasks() (bool, error) {
	return s.stop()
}
