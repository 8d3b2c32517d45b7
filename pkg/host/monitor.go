package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Monitor reloads a module when its trigger file (tmp/restart.txt by
// default) is touched
type Monitor struct {
	host    *Host
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu      sync.Mutex
	watched map[string]*watch // by trigger file path
	reloads sync.WaitGroup
}

type watch struct {
	module  string
	modTime time.Time
}

// NewMonitor creates a monitor for the host's deployments
func NewMonitor(h *Host) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Monitor{
		host:    h,
		watcher: w,
		logger:  h.logger.Named("monitor"),
		watched: make(map[string]*watch),
	}, nil
}

// Watch starts watching the trigger file of module. The file need not
// exist yet; its directory is created so creation is observed too.
func (m *Monitor) Watch(module, path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create monitor directory: %w", err)
	}
	if err := m.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[path] = &watch{module: module, modTime: modTime(path)}

	m.logger.Debug("Watching module", zap.String("module", module), zap.String("path", path))
	return nil
}

// Unwatch stops watching the trigger file of module
func (m *Monitor) Unwatch(module string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for path, w := range m.watched {
		if w.module != module {
			continue
		}
		delete(m.watched, path)
		// other modules may share the directory; fsnotify errors on
		// unknown paths are harmless
		if !m.dirShared(filepath.Dir(path)) {
			_ = m.watcher.Remove(filepath.Dir(path))
		}
	}
}

func (m *Monitor) dirShared(dir string) bool {
	for path := range m.watched {
		if filepath.Dir(path) == dir {
			return true
		}
	}
	return false
}

// Sync watches every deployed module and drops watches for modules that
// are gone
func (m *Monitor) Sync() error {
	deployed := make(map[string]bool)
	for _, name := range m.host.Deployments() {
		deployed[name] = true
	}

	m.mu.Lock()
	known := make(map[string]bool)
	var stale []string
	for _, w := range m.watched {
		known[w.module] = true
		if !deployed[w.module] {
			stale = append(stale, w.module)
		}
	}
	m.mu.Unlock()

	for _, name := range stale {
		m.Unwatch(name)
	}
	for name := range deployed {
		if known[name] {
			continue
		}
		manifest, ok := m.host.manifest(name)
		if !ok {
			continue
		}
		if err := m.Watch(name, manifest.MonitorPath()); err != nil {
			return err
		}
	}
	return nil
}

// Run processes file events until ctx is done, then waits for reloads in
// flight and closes the watcher
func (m *Monitor) Run(ctx context.Context) error {
	defer func() {
		m.reloads.Wait()
		m.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Stopping monitor")
			return nil

		case event, ok := <-m.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Chmod) {
				continue
			}
			if name, ok := m.touched(event.Name); ok {
				m.logger.Info("Reload requested", zap.String("module", name), zap.Stringer("op", event.Op))
				m.reload(ctx, name)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			m.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

// touched reports the module whose trigger file moved forward in time
func (m *Monitor) touched(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.watched[filepath.Clean(path)]
	if !ok {
		return "", false
	}
	mt := modTime(path)
	if !mt.After(w.modTime) {
		return "", false
	}
	w.modTime = mt
	return w.module, true
}

func (m *Monitor) reload(ctx context.Context, name string) {
	m.reloads.Add(1)
	go func() {
		defer m.reloads.Done()

		err := m.host.Reload(ctx, name)
		switch {
		case err == nil:
			m.logger.Info("Module reloaded", zap.String("module", name))
		case IsCode(err, ErrorCodeReloadInProgress):
			m.logger.Info("Reload already in progress", zap.String("module", name))
		default:
			m.logger.Error("Reload failed", zap.String("module", name), zap.Error(err))
		}
	}()
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
