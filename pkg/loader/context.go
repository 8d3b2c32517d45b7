// Package loader models isolation contexts: the ownership scope every module,
// managed runtime and library type is attributed to.
//
// Contexts form a tree rooted at the host. A module's boundary owns one context
// and every managed runtime spawned inside it owns a child context. Anything
// that records the context it was loaded by (see Origin) can later be
// attributed to a module by walking the tree, which is how process-wide
// registrations are reclaimed without touching resources shared by ancestors.
package loader

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Origin is implemented by anything that remembers the context that loaded it
type Origin interface {
	LoadedBy() *Context
}

var contextSeq atomic.Uint64

// Context is one node of the isolation tree
type Context struct {
	seq    uint64
	name   string
	parent *Context

	mu        sync.RWMutex
	classpath []string
	declared  bool
	types     map[string]*Type
	closed    bool
}

// NewRoot creates a root context (the host process scope)
func NewRoot(name string) *Context {
	return newContext(name, nil)
}

// NewChild creates a context delegating to c
func (c *Context) NewChild(name string) *Context {
	return newContext(name, c)
}

func newContext(name string, parent *Context) *Context {
	return &Context{
		seq:    contextSeq.Add(1),
		name:   name,
		parent: parent,
		types:  make(map[string]*Type),
	}
}

// Name returns the context name
func (c *Context) Name() string {
	return c.name
}

// Parent returns the delegation parent, nil for a root
func (c *Context) Parent() *Context {
	return c.parent
}

// Root returns the top of the tree c belongs to
func (c *Context) Root() *Context {
	root := c
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// IsRoot reports whether c has no parent
func (c *Context) IsRoot() bool {
	return c.parent == nil
}

// Ancestors returns the parent chain of c, nearest first
func (c *Context) Ancestors() []*Context {
	var chain []*Context
	for p := c.parent; p != nil; p = p.parent {
		chain = append(chain, p)
	}
	return chain
}

// Within reports whether c is other or one of its descendants
func (c *Context) Within(other *Context) bool {
	if other == nil {
		return false
	}
	for cur := c; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

// SetClasspath declares the classpath entries owned by this context.
// A context that never declared a classpath reports nil from Classpath.
func (c *Context) SetClasspath(entries []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.classpath = append([]string(nil), entries...)
	c.declared = true
}

// AddClasspath appends entries to the declared classpath
func (c *Context) AddClasspath(entries ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.classpath = append(c.classpath, entries...)
	c.declared = true
}

// Classpath returns a copy of the declared entries in declaration order
func (c *Context) Classpath() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.declared {
		return nil
	}
	return append(make([]string, 0, len(c.classpath)), c.classpath...)
}

// Define registers a named type in this context. statics is the type's
// package-level side: the value capability probes inspect.
func (c *Context) Define(name string, statics any) (*Type, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("define %s: context %s is closed", name, c)
	}
	if _, exists := c.types[name]; exists {
		return nil, fmt.Errorf("define %s: already defined in %s", name, c)
	}

	t := &Type{name: name, loader: c, statics: statics}
	c.types[name] = t
	return t, nil
}

// Loaded returns a type defined by this very context, without delegation.
func (c *Context) Loaded(name string) (*Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.types[name]
	return t, ok
}

// Find resolves a type the way code running in c would see it: c first,
// then each ancestor.
func (c *Context) Find(name string) (*Type, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		if t, ok := cur.Loaded(name); ok {
			return t, true
		}
	}
	return nil, false
}

// Types returns the number of types defined by this context
func (c *Context) Types() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}

// Close releases the context: defined types are dropped and further
// definitions are refused. Close is idempotent.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.types = make(map[string]*Type)
}

// Closed reports whether Close was called
func (c *Context) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// String returns a diagnostic name such as "module-a#3"
func (c *Context) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s#%d", c.name, c.seq)
}
