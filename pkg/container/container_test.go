package container

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []EventType
	seen   []any
}

func (r *recorder) LifecycleEvent(e Event) {
	r.events = append(r.events, e.Type)
	if e.Type == EventStop {
		r.seen = append(r.seen, e.Module.Attribute("factory"))
	}
}

func TestModule_StopEventSeesAttributes(t *testing.T) {
	ctx := context.Background()
	m := New("app", "/app", []string{"lib/a.jar"}, nil)
	r := &recorder{}
	m.AddListener(r)

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, "STARTED", m.StateName())

	m.SetAttribute("factory", "value")
	require.NoError(t, m.Stop(ctx))

	assert.Equal(t, []EventType{EventBeforeStart, EventStart, EventStop, EventAfterStop}, r.events)
	assert.Equal(t, []any{"value"}, r.seen, "attributes are readable during the stop event")
	assert.Nil(t, m.Attribute("factory"), "attributes are cleared after stop")
	assert.Equal(t, "STOPPED", m.StateName())
}

func TestModule_RemoveListener(t *testing.T) {
	ctx := context.Background()
	m := New("app", "/app", nil, nil)
	r := &recorder{}
	m.AddListener(r)
	m.RemoveListener(r)

	require.NoError(t, m.Start(ctx))
	assert.Empty(t, r.events)
}

func TestModule_ShutdownHooks(t *testing.T) {
	ctx := context.Background()
	m := New("app", "/app", nil, nil)

	var order []int
	m.AddShutdownHook(func(context.Context) error { order = append(order, 1); return nil })
	m.AddShutdownHook(func(context.Context) error { order = append(order, 2); return errors.New("boom") })

	require.NoError(t, m.Start(ctx))
	err := m.Stop(ctx)
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, []int{2, 1}, order, "hooks run in reverse registration order")
	assert.Equal(t, "STOPPED", m.StateName())
}

func TestModule_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	m := New("app", "/app", nil, nil)

	assert.Error(t, m.Stop(ctx))
	require.NoError(t, m.Start(ctx))
	assert.Error(t, m.Start(ctx))
}

func TestModule_ClasspathCopy(t *testing.T) {
	cp := []string{"lib/a.jar"}
	m := New("app", "/app", cp, nil)
	cp[0] = "changed"
	assert.Equal(t, []string{"lib/a.jar"}, m.Classpath())
}
