// Package driver knows the vendor database drivers that leak process-wide
// resources when loaded inside a module: a background cleanup thread, or a
// shared cancellation timer whose tasks keep the module context reachable.
//
// Driver types are looked up by name in a module's isolation context and
// their statics are probed for optional capabilities with type assertions.
// The set of variants is closed.
package driver

import (
	"errors"

	"github.com/trinidad/trinidad/pkg/loader"
)

// ErrNoCapability is returned when an instantiated driver type exposes none
// of the capabilities its variant expects
var ErrNoCapability = errors.New("driver exposes no known release capability")

// ThreadShutdowner stops a driver's background cleanup thread
type ThreadShutdowner interface {
	ShutdownThread() error
}

// SharedTimerReleaser releases a driver's reference to a process-wide timer.
// It reports false when there was nothing to release.
type SharedTimerReleaser interface {
	ReleaseSharedTimer() (bool, error)
}

// LegacyTimerPurger cancels timer tasks on drivers that predate the shared
// timer. It reports false when no task was pending.
type LegacyTimerPurger interface {
	PurgeTimerTasks() (bool, error)
}

// Kind distinguishes what a variant leaks
type Kind int

const (
	// KindThread variants leave a named background thread running
	KindThread Kind = iota
	// KindTimer variants keep timer tasks scheduled
	KindTimer
)

// String returns the string representation of a Kind
func (k Kind) String() string {
	switch k {
	case KindThread:
		return "thread"
	case KindTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// Variant describes one known leaking driver
type Variant struct {
	// Name is the short vendor name used in logs and configuration
	Name string

	// TypeName is the fully qualified name the driver type is loaded under
	TypeName string

	// ThreadName is part of the name of the thread the driver starts
	ThreadName string

	Kind Kind
}

var (
	// MySQL starts an abandoned connection cleanup thread on first use
	MySQL = Variant{
		Name:       "mysql",
		TypeName:   "com.mysql.jdbc.AbandonedConnectionCleanupThread",
		ThreadName: "Abandoned connection cleanup thread",
		Kind:       KindThread,
	}

	// MariaDB schedules statement timeouts on a timer
	MariaDB = Variant{
		Name:       "mariadb",
		TypeName:   "org.mariadb.jdbc.MySQLStatement",
		ThreadName: "MariaDB-statement-timer",
		Kind:       KindTimer,
	}

	// PostgreSQL shares a cancellation timer between connections
	PostgreSQL = Variant{
		Name:       "postgresql",
		TypeName:   "org.postgresql.Driver",
		ThreadName: "PostgreSQL-JDBC-SharedTimer-",
		Kind:       KindTimer,
	}
)

// Variants returns the closed set of known drivers
func Variants() []Variant {
	return []Variant{MySQL, MariaDB, PostgreSQL}
}

// Lookup returns the variant with the given short name
func Lookup(name string) (Variant, bool) {
	for _, v := range Variants() {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// Handle is a driver type found in an isolation context
type Handle struct {
	*loader.Type
}

// TryLoad probes ctx for the variant's type. With loadedOnly the probe only
// sees types ctx defined itself and never triggers a lookup through its
// ancestors, so a driver the module never loaded is not dragged in.
func TryLoad(ctx *loader.Context, v Variant, loadedOnly bool) (Handle, bool) {
	if ctx == nil {
		return Handle{}, false
	}

	var (
		t  *loader.Type
		ok bool
	)
	if loadedOnly {
		t, ok = ctx.Loaded(v.TypeName)
	} else {
		t, ok = ctx.Find(v.TypeName)
	}
	if !ok {
		return Handle{}, false
	}
	return Handle{Type: t}, true
}

// ShutdownThread stops the handle's cleanup thread. It reports false when
// the type does not expose the capability.
func ShutdownThread(h Handle) (bool, error) {
	s, ok := h.Statics().(ThreadShutdowner)
	if !ok {
		return false, nil
	}
	if err := s.ShutdownThread(); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseTimer releases the handle's timer, preferring the shared timer
// capability and falling back to the legacy purge. It fails with
// ErrNoCapability when neither is exposed.
func ReleaseTimer(h Handle) (bool, error) {
	switch s := h.Statics().(type) {
	case SharedTimerReleaser:
		return s.ReleaseSharedTimer()
	case LegacyTimerPurger:
		return s.PurgeTimerTasks()
	default:
		return false, ErrNoCapability
	}
}
