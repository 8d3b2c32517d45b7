package host

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistry_Discover(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "billing", "name: billing\n")
	writeModule(t, dir, "orders", "name: orders\nreload_strategy: rolling\n")
	writeModule(t, dir, "broken", "reload_strategy: restart\n")
	writeModule(t, dir, "orders-copy", "name: orders\n")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), nil, 0o644))

	r := NewRegistry(dir, zaptest.NewLogger(t))
	require.NoError(t, r.Discover())

	assert.Equal(t, 2, r.Count())
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "billing", list[0].Name)
	assert.Equal(t, "orders", list[1].Name)

	orders, ok := r.Get("orders")
	require.True(t, ok)
	assert.Equal(t, ReloadRolling, orders.ReloadStrategy, "first directory in name order wins")

	_, ok = r.Get("broken")
	assert.False(t, ok)
}

func TestRegistry_Reload(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "billing", "name: billing\n")

	r := NewRegistry(dir, nil)
	require.NoError(t, r.Discover())
	assert.Equal(t, 1, r.Count())

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "billing")))
	writeModule(t, dir, "orders", "name: orders\n")
	require.NoError(t, r.Reload())

	_, ok := r.Get("billing")
	assert.False(t, ok)
	_, ok = r.Get("orders")
	assert.True(t, ok)
}

func TestRegistry_MissingDirectory(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "absent"), nil)
	assert.Error(t, r.Discover())
}
