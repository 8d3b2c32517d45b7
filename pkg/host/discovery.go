package host

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maintains the modules discovered in a modules directory
type Registry struct {
	mu        sync.RWMutex
	modules   map[string]*Manifest // module name -> manifest
	directory string
	logger    *zap.Logger
}

// NewRegistry creates a new module registry
func NewRegistry(directory string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		modules:   make(map[string]*Manifest),
		directory: directory,
		logger:    logger,
	}
}

// Discover scans the modules directory and loads all manifests. Broken
// manifests are logged and skipped.
func (r *Registry) Discover() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("Discovering modules", zap.String("dir", r.directory))

	entries, err := os.ReadDir(r.directory)
	if err != nil {
		return fmt.Errorf("read modules directory: %w", err)
	}

	discovered := 0
	failed := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		manifestPath := filepath.Join(r.directory, entry.Name(), ManifestFile)
		if _, err := os.Stat(manifestPath); err != nil {
			r.logger.Debug("Module directory has no manifest, skipping", zap.String("dir", entry.Name()))
			continue
		}

		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			r.logger.Warn("Failed to load module manifest",
				zap.String("path", manifestPath),
				zap.Error(err))
			failed++
			continue
		}
		if prev, dup := r.modules[manifest.Name]; dup {
			r.logger.Warn("Duplicate module name, keeping first",
				zap.String("module", manifest.Name),
				zap.String("kept", prev.Path()),
				zap.String("ignored", manifest.Path()))
			failed++
			continue
		}

		r.modules[manifest.Name] = manifest
		discovered++

		r.logger.Info("Discovered module",
			zap.String("module", manifest.Name),
			zap.String("version", manifest.Version),
			zap.String("reload_strategy", manifest.ReloadStrategy))
	}

	r.logger.Info("Module discovery complete",
		zap.Int("discovered", discovered),
		zap.Int("failed", failed))
	return nil
}

// Get returns a manifest by name
func (r *Registry) Get(name string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	manifest, ok := r.modules[name]
	return manifest, ok
}

// List returns all manifests sorted by name
func (r *Registry) List() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modules := make([]*Manifest, 0, len(r.modules))
	for _, manifest := range r.modules {
		modules = append(modules, manifest)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })
	return modules
}

// Count returns the number of discovered modules
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.modules)
}

// Reload re-discovers all modules
func (r *Registry) Reload() error {
	r.mu.Lock()
	r.modules = make(map[string]*Manifest)
	r.mu.Unlock()

	return r.Discover()
}
