package host

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// answerModule exports "answer" () -> i32 returning 42
var answerModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0a, 0x01, 0x06, 'a', 'n', 's', 'w', 'e', 'r', 0x00, 0x00,
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x2a, 0x0b,
}

// writeModule lays out a module directory with an archive under lib/, the
// answer entrypoint and a manifest made of the given yaml body
func writeModule(t *testing.T, modulesDir, dir, manifest string) string {
	t.Helper()
	root := filepath.Join(modulesDir, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))

	f, err := os.Create(filepath.Join(root, "lib", dir+".jar"))
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	_, err = zw.Create("META-INF/MANIFEST.MF")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	require.NoError(t, os.WriteFile(filepath.Join(root, "app.wasm"), answerModule, 0o644))

	path := filepath.Join(root, ManifestFile)
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))
	return path
}

func testConfig(modulesDir string, services ...string) Config {
	return Config{
		ModulesDir:  modulesDir,
		CallTimeout: 5 * time.Second,
		Scan:        ScanConfig{FastPathOnly: true},
		Reclaim:     ReclaimConfig{SecurityServices: services},
	}
}

func newTestHost(t *testing.T, cfg Config) *Host {
	t.Helper()
	h := New(cfg, WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	return h
}
