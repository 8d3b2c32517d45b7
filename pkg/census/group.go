package census

import "sync"

// Group is a node of the thread tree. Every thread belongs to exactly one
// group for its whole life, so a recursive enumeration never yields the same
// thread twice.
type Group struct {
	name   string
	parent *Group

	mu      sync.Mutex
	threads []*Thread
	groups  []*Group
}

var (
	systemGroup = &Group{name: "system"}
	mainGroup   = systemGroup.NewGroup("main")
)

// System returns the root of the process thread tree
func System() *Group {
	return systemGroup
}

// Main returns the default group threads are started in
func Main() *Group {
	return mainGroup
}

// NewGroup creates a subgroup of g
func (g *Group) NewGroup(name string) *Group {
	child := &Group{name: name, parent: g}

	g.mu.Lock()
	g.groups = append(g.groups, child)
	g.mu.Unlock()

	return child
}

// Name returns the group name
func (g *Group) Name() string {
	return g.name
}

// Parent returns the enclosing group, nil for the system group
func (g *Group) Parent() *Group {
	return g.parent
}

// ActiveCount estimates the number of live threads in g and its subgroups.
// The value is stale as soon as it is returned.
func (g *Group) ActiveCount() int {
	g.mu.Lock()
	n := len(g.threads)
	groups := append([]*Group(nil), g.groups...)
	g.mu.Unlock()

	for _, sub := range groups {
		n += sub.ActiveCount()
	}
	return n
}

// Enumerate copies live threads of g and its subgroups into dst and returns
// how many were copied. Threads that do not fit are silently ignored, so a
// result equal to len(dst) may be truncated.
func (g *Group) Enumerate(dst []*Thread) int {
	return g.enumerate(dst, 0)
}

func (g *Group) enumerate(dst []*Thread, n int) int {
	g.mu.Lock()
	for _, th := range g.threads {
		if n >= len(dst) {
			break
		}
		dst[n] = th
		n++
	}
	groups := append([]*Group(nil), g.groups...)
	g.mu.Unlock()

	for _, sub := range groups {
		if n >= len(dst) {
			break
		}
		n = sub.enumerate(dst, n)
	}
	return n
}

func (g *Group) add(th *Thread) {
	g.mu.Lock()
	g.threads = append(g.threads, th)
	g.mu.Unlock()
}

func (g *Group) remove(th *Thread) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, cur := range g.threads {
		if cur == th {
			last := len(g.threads) - 1
			g.threads[i] = g.threads[last]
			g.threads[last] = nil
			g.threads = g.threads[:last]
			return
		}
	}
}
