// Package managed embeds WebAssembly interpreters inside a module. Each
// runtime gets its own isolation context below the module's boundary, so
// anything it loads is attributable to the module when it stops.
package managed

import (
	"context"

	"github.com/trinidad/trinidad/pkg/loader"
)

const (
	// FactoryAttribute is the container attribute a module's runtime factory
	// is published under
	FactoryAttribute = "runtime.factory"

	// WorkerThreadPart is part of the name of the shared call timeout worker
	WorkerThreadPart = "TimeoutWorker-"

	// WorkerThreadMarker also appears in the worker name and tells it apart
	// from timeout workers of unrelated libraries
	WorkerThreadMarker = "Runtime"
)

// Runtime is a managed interpreter instance living inside a module
type Runtime interface {
	// ID identifies the runtime within the process
	ID() string

	// Loader is the runtime's own isolation context
	Loader() *loader.Context

	// Close tears the interpreter down. It does not close Loader.
	Close(ctx context.Context) error
}

// Provider exposes the runtimes currently managed for a module
type Provider interface {
	ManagedRuntimes() ([]Runtime, error)
}
