// Package security holds the process-wide table of named security services.
//
// Libraries loaded by a module register services here and the table outlives
// the module, so a registration made from inside a module keeps that
// module's context reachable until it is removed. All mutations go through
// one lock; RemoveIf is the check-then-remove primitive reclaimers use.
package security

import (
	"sync"

	"github.com/trinidad/trinidad/pkg/loader"
)

// Service is a named, globally registered security service
type Service interface {
	loader.Origin

	// Name is the registration key (e.g. "BC")
	Name() string
}

var (
	// mu is the process-wide security lock
	mu       sync.Mutex
	services []Service
)

// Add registers s at the lowest preference. It returns the 1-based position,
// or -1 if a service with the same name is already registered.
func Add(s Service) int {
	mu.Lock()
	defer mu.Unlock()

	if indexOf(s.Name()) >= 0 {
		return -1
	}
	services = append(services, s)
	return len(services)
}

// Get returns the service registered under name, nil when absent
func Get(name string) Service {
	mu.Lock()
	defer mu.Unlock()

	if i := indexOf(name); i >= 0 {
		return services[i]
	}
	return nil
}

// Remove unregisters name and reports whether it was present
func Remove(name string) bool {
	mu.Lock()
	defer mu.Unlock()
	return removeLocked(name)
}

// RemoveIf unregisters name only if it is still registered as expected. The
// check and the removal happen under the security lock, so a service that
// another module re-registered in between is left alone.
func RemoveIf(name string, expected Service) bool {
	mu.Lock()
	defer mu.Unlock()

	i := indexOf(name)
	if i < 0 || services[i] != expected {
		return false
	}
	return removeLocked(name)
}

// Services returns the registered services in preference order
func Services() []Service {
	mu.Lock()
	defer mu.Unlock()
	return append([]Service(nil), services...)
}

func indexOf(name string) int {
	for i, s := range services {
		if s.Name() == name {
			return i
		}
	}
	return -1
}

func removeLocked(name string) bool {
	i := indexOf(name)
	if i < 0 {
		return false
	}
	services = append(services[:i], services[i+1:]...)
	return true
}

// Provider is a basic Service implementation libraries can register
type Provider struct {
	name   string
	info   string
	loader *loader.Context
}

// NewProvider creates a provider attributed to the context that defined it
func NewProvider(name, info string, loadedBy *loader.Context) *Provider {
	return &Provider{name: name, info: info, loader: loadedBy}
}

// Name returns the registration key
func (p *Provider) Name() string {
	return p.name
}

// Info returns a human readable description
func (p *Provider) Info() string {
	return p.info
}

// LoadedBy returns the context the provider was loaded by
func (p *Provider) LoadedBy() *loader.Context {
	return p.loader
}

func (p *Provider) String() string {
	return p.name + " (" + p.info + ") loaded by " + p.loader.String()
}
