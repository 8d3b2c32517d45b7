package host

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifest_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "orders", "name: orders\nentrypoint: app.wasm\n")

	m, err := LoadManifest(path)
	require.NoError(t, err)

	root := filepath.Join(dir, "orders")
	assert.Equal(t, "orders", m.Name)
	assert.Equal(t, ReloadRestart, m.ReloadStrategy)
	assert.Equal(t, root, m.RootPath())
	assert.Equal(t, filepath.Join(root, "app.wasm"), m.EntrypointPath())
	assert.Equal(t, filepath.Join(root, "tmp", "restart.txt"), m.MonitorPath())
}

func TestManifest_DeclaredClasspath(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "orders", "name: orders\nclasspath: [classes]\n")
	root := filepath.Join(dir, "orders")
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "a-first.jar"), nil, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib", "nested"), 0o755))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	classpath, err := m.DeclaredClasspath()
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/a-first.jar", "lib/orders.jar", "classes"}, classpath)
}

func TestManifest_MissingLibs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFile)
	require.NoError(t, os.WriteFile(path, []byte("name: bare\n"), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	classpath, err := m.DeclaredClasspath()
	require.NoError(t, err)
	assert.Empty(t, classpath)
}

func TestLoadManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing name", "version: 1.0.0\n"},
		{"bad strategy", "name: x\nreload_strategy: blue-green\n"},
		{"unknown driver", "name: x\ndrivers: [oracle]\n"},
		{"missing entrypoint", "name: x\nentrypoint: nope.wasm\n"},
		{"not yaml", "name: [x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ManifestFile)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			_, err := LoadManifest(path)
			require.Error(t, err)
			assert.True(t, IsCode(err, ErrorCodeInvalidManifest))
		})
	}
}
