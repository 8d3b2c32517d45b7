package loader

import "sync/atomic"

// Type is a named definition loaded by a context, the unit a library
// contributes to a module (a driver, a provider implementation...).
type Type struct {
	name    string
	loader  *Context
	statics any

	instances atomic.Int64
}

// Name returns the fully qualified type name
func (t *Type) Name() string {
	return t.name
}

// LoadedBy returns the defining context
func (t *Type) LoadedBy() *Context {
	return t.loader
}

// Statics returns the type-level value registered with Define
func (t *Type) Statics() any {
	return t.statics
}

// Instantiate records that code created a value of this type
func (t *Type) Instantiate() {
	t.instances.Add(1)
}

// Instantiated reports whether the type was ever used, not merely loaded
func (t *Type) Instantiated() bool {
	return t.instances.Load() > 0
}

// Instances returns how many values of the type were created
func (t *Type) Instances() int64 {
	return t.instances.Load()
}
