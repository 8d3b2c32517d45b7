// Package container is the host-side view of a deployed module: its name,
// root directory, declared classpath, attribute store and lifecycle events.
package container

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EventType identifies a lifecycle event
type EventType int

const (
	EventBeforeStart EventType = iota
	EventStart
	// EventStop fires while attributes are still readable
	EventStop
	EventAfterStop
)

// String returns the string representation of an EventType
func (t EventType) String() string {
	switch t {
	case EventBeforeStart:
		return "before_start"
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventAfterStop:
		return "after_stop"
	default:
		return "unknown"
	}
}

// Event is delivered synchronously to listeners
type Event struct {
	Type   EventType
	Module *Module
}

// Listener receives lifecycle events. Listeners are compared by identity
// on removal, so implementations should be pointers.
type Listener interface {
	LifecycleEvent(e Event)
}

// ShutdownHook runs on Stop after stop listeners, before attributes are
// cleared
type ShutdownHook func(ctx context.Context) error

// Module is a deployed module
type Module struct {
	name      string
	root      string
	classpath []string
	logger    *zap.Logger

	mu         sync.RWMutex
	state      string
	attributes map[string]any
	listeners  []Listener
	hooks      []ShutdownHook
}

// New creates a module in state NEW
func New(name, root string, classpath []string, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		name:       name,
		root:       root,
		classpath:  append([]string(nil), classpath...),
		logger:     logger.With(zap.String("module", name)),
		state:      "NEW",
		attributes: make(map[string]any),
	}
}

// Name returns the module name
func (m *Module) Name() string {
	return m.name
}

// Root returns the module's root directory
func (m *Module) Root() string {
	return m.root
}

// Classpath returns the declared classpath entries
func (m *Module) Classpath() []string {
	return append([]string(nil), m.classpath...)
}

// StateName returns the container state for diagnostics
func (m *Module) StateName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Attribute returns a stored attribute, nil when unset
func (m *Module) Attribute(name string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attributes[name]
}

// SetAttribute stores an attribute
func (m *Module) SetAttribute(name string, value any) {
	m.mu.Lock()
	m.attributes[name] = value
	m.mu.Unlock()
}

// RemoveAttribute deletes an attribute
func (m *Module) RemoveAttribute(name string) {
	m.mu.Lock()
	delete(m.attributes, name)
	m.mu.Unlock()
}

// AddListener registers a lifecycle listener
func (m *Module) AddListener(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// RemoveListener unregisters a lifecycle listener
func (m *Module) RemoveListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, cur := range m.listeners {
		if cur == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// AddShutdownHook registers a hook run on Stop
func (m *Module) AddShutdownHook(h ShutdownHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, h)
	m.mu.Unlock()
}

// Start marks the module started, notifying listeners around the change
func (m *Module) Start(ctx context.Context) error {
	if s := m.StateName(); s != "NEW" {
		return fmt.Errorf("module %s cannot start from state %s", m.name, s)
	}
	m.fire(EventBeforeStart)
	m.setState("STARTED")
	m.fire(EventStart)
	return nil
}

// Stop fires the stop event, runs shutdown hooks and clears the attribute
// store. Hook errors are combined and returned after the module stopped.
func (m *Module) Stop(ctx context.Context) error {
	if s := m.StateName(); s != "STARTED" {
		return fmt.Errorf("module %s cannot stop from state %s", m.name, s)
	}
	m.setState("STOPPING")
	m.fire(EventStop)

	m.mu.Lock()
	hooks := m.hooks
	m.hooks = nil
	m.mu.Unlock()

	var err error
	for i := len(hooks) - 1; i >= 0; i-- {
		err = multierr.Append(err, hooks[i](ctx))
	}
	if err != nil {
		m.logger.Warn("Shutdown hook failed", zap.Error(err))
	}

	m.mu.Lock()
	m.attributes = make(map[string]any)
	m.state = "STOPPED"
	m.mu.Unlock()

	m.fire(EventAfterStop)
	return err
}

func (m *Module) setState(s string) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Module) fire(t EventType) {
	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.RUnlock()

	for _, l := range listeners {
		l.LifecycleEvent(Event{Type: t, Module: m})
	}
}
