package lifecycle

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/trinidad/trinidad/pkg/loader"
	"github.com/trinidad/trinidad/pkg/managed"
)

// Boundary is a module's isolation scope
type Boundary struct {
	id     uuid.UUID
	name   string
	parent *Boundary
	loader *loader.Context

	mu       sync.Mutex
	runtimes []managed.Runtime
	released bool
}

// NewRootBoundary creates the host boundary every module descends from
func NewRootBoundary(name string) *Boundary {
	return &Boundary{
		id:     uuid.New(),
		name:   name,
		loader: loader.NewRoot(name),
	}
}

// NewChild creates a boundary whose context delegates to b
func (b *Boundary) NewChild(name string) *Boundary {
	return &Boundary{
		id:     uuid.New(),
		name:   name,
		parent: b,
		loader: b.loader.NewChild(name),
	}
}

// ID returns the unique boundary identity
func (b *Boundary) ID() uuid.UUID {
	return b.id
}

// Name returns the boundary name
func (b *Boundary) Name() string {
	return b.name
}

// Parent returns the enclosing boundary, nil for the root
func (b *Boundary) Parent() *Boundary {
	return b.parent
}

// Loader returns the boundary's isolation context
func (b *Boundary) Loader() *loader.Context {
	return b.loader
}

// Runtimes returns the managed runtimes captured for the boundary
func (b *Boundary) Runtimes() []managed.Runtime {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]managed.Runtime(nil), b.runtimes...)
}

func (b *Boundary) setRuntimes(runtimes []managed.Runtime) {
	b.mu.Lock()
	b.runtimes = append([]managed.Runtime(nil), runtimes...)
	b.mu.Unlock()
}

// Released reports whether Release was called
func (b *Boundary) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Release closes the captured runtimes, their contexts and the boundary's
// context. Every runtime is closed even if some fail. Releasing twice is a
// no-op.
func (b *Boundary) Release(ctx context.Context) error {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return nil
	}
	b.released = true
	runtimes := b.runtimes
	b.runtimes = nil
	b.mu.Unlock()

	var err error
	for _, rt := range runtimes {
		err = multierr.Append(err, rt.Close(ctx))
		rt.Loader().Close()
	}
	b.loader.Close()
	return err
}

func (b *Boundary) String() string {
	return b.name + "/" + b.id.String()
}
