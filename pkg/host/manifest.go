package host

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/trinidad/trinidad/pkg/driver"
)

// ManifestFile is the manifest name looked up in each module directory
const ManifestFile = "module.yaml"

// Reload strategies
const (
	// ReloadRestart stops the running boundary before starting a new one
	ReloadRestart = "restart"
	// ReloadRolling starts the new boundary first and stops the old one
	// once the new one is serving
	ReloadRolling = "rolling"
)

// Manifest describes a deployable module
type Manifest struct {
	// Name of the module
	Name string `yaml:"name"`

	// Version of the module
	Version string `yaml:"version"`

	// Optional: Description of the module
	Description string `yaml:"description"`

	// Root directory relative to the manifest, defaults to the manifest's
	Root string `yaml:"root"`

	// Libs is the archive directory relative to Root, defaults to "lib"
	Libs string `yaml:"libs"`

	// Classpath lists extra entries after the archives in Libs
	Classpath []string `yaml:"classpath"`

	// Entrypoint is a wasm binary relative to Root, optional
	Entrypoint string `yaml:"entrypoint"`

	// Init is an exported function called once after instantiation
	Init string `yaml:"init"`

	// Drivers are bundled database drivers the module loads
	Drivers []string `yaml:"drivers"`

	// SecurityProviders are service names the module registers globally
	SecurityProviders []string `yaml:"security_providers"`

	// ReloadStrategy is restart or rolling
	ReloadStrategy string `yaml:"reload_strategy"`

	// Monitor is the file whose modification triggers a reload, relative to
	// Root
	Monitor string `yaml:"monitor"`

	// MemoryLimitPages caps wasm linear memory, 0 means the engine default
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`

	// Internal: Absolute path to manifest file (populated during load)
	manifestPath string `yaml:"-"`
}

// LoadManifest loads a manifest from a YAML file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, ErrInvalidManifest(path, fmt.Errorf("parse: %w", err))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	manifest.manifestPath = absPath

	if err := manifest.Validate(); err != nil {
		return nil, ErrInvalidManifest(path, err)
	}

	return &manifest, nil
}

// Validate checks the manifest and fills in defaults
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch m.ReloadStrategy {
	case "":
		m.ReloadStrategy = ReloadRestart
	case ReloadRestart, ReloadRolling:
	default:
		return fmt.Errorf("invalid reload_strategy: %s (must be restart or rolling)", m.ReloadStrategy)
	}

	for _, name := range m.Drivers {
		if _, ok := driver.Lookup(name); !ok {
			return fmt.Errorf("unknown driver: %s", name)
		}
	}

	if m.Root == "" {
		m.Root = "."
	}
	if m.Libs == "" {
		m.Libs = "lib"
	}
	if m.Monitor == "" {
		m.Monitor = filepath.Join("tmp", "restart.txt")
	}

	if m.Entrypoint != "" {
		if _, err := os.Stat(m.EntrypointPath()); err != nil {
			return fmt.Errorf("entrypoint not found: %s: %w", m.EntrypointPath(), err)
		}
	}

	return nil
}

// Path returns the absolute manifest path
func (m *Manifest) Path() string {
	return m.manifestPath
}

// Dir returns the directory containing the manifest
func (m *Manifest) Dir() string {
	return filepath.Dir(m.manifestPath)
}

// RootPath returns the module root directory
func (m *Manifest) RootPath() string {
	return m.resolve(m.Dir(), m.Root)
}

// EntrypointPath returns the wasm binary path
func (m *Manifest) EntrypointPath() string {
	return m.resolve(m.RootPath(), m.Entrypoint)
}

// MonitorPath returns the reload trigger file path
func (m *Manifest) MonitorPath() string {
	return m.resolve(m.RootPath(), m.Monitor)
}

func (m *Manifest) resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// DeclaredClasspath lists the module's classpath: the regular files of the
// libs directory in name order, relative to the root, then the extra
// entries. A missing libs directory contributes nothing.
func (m *Manifest) DeclaredClasspath() ([]string, error) {
	var classpath []string

	entries, err := os.ReadDir(m.resolve(m.RootPath(), m.Libs))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read libs directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		classpath = append(classpath, filepath.ToSlash(filepath.Join(m.Libs, name)))
	}

	return append(classpath, m.Classpath...), nil
}
