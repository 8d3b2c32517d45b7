package host

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/trinidad/trinidad/pkg/lifecycle"
)

// Config is the host configuration, usually read from trinidad.yml
type Config struct {
	// ModulesDir holds one directory per module, each with a module.yaml
	ModulesDir string `mapstructure:"modules_dir"`

	// SharedClasspath entries are visible to every module through the shared
	// boundary
	SharedClasspath []string `mapstructure:"shared_classpath"`

	// CallTimeout bounds wasm calls made by the host on behalf of modules
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	Scan    ScanConfig    `mapstructure:"scan"`
	Reclaim ReclaimConfig `mapstructure:"reclaim"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// ScanConfig configures archive discovery
type ScanConfig struct {
	Exclusions      []string `mapstructure:"exclusions"`
	FastPathOnly    bool     `mapstructure:"fast_path_only"`
	ScanDirectories bool     `mapstructure:"scan_directories"`
}

// ReclaimConfig configures leak reclamation on stop
type ReclaimConfig struct {
	ForceSecurityCleanup bool     `mapstructure:"force_security_cleanup"`
	SecurityServices     []string `mapstructure:"security_services"`
}

// MonitorConfig configures hot reload
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MetricsConfig configures the metrics endpoint
type MetricsConfig struct {
	Addr      string `mapstructure:"addr"`
	Namespace string `mapstructure:"namespace"`
}

// LogConfig configures logging
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SetDefaults registers the default configuration with v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("modules_dir", "modules")
	v.SetDefault("call_timeout", 5*time.Second)
	v.SetDefault("scan.fast_path_only", true)
	v.SetDefault("scan.scan_directories", false)
	v.SetDefault("reclaim.force_security_cleanup", false)
	v.SetDefault("reclaim.security_services", []string{"BC"})
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.namespace", "trinidad")
	v.SetDefault("log.level", "info")
}

// LoadConfig reads the configuration from v, which may carry a config file,
// environment overrides and bound flags
func LoadConfig(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode configuration: %w", err)
	}
	if err := cfg.Lifecycle().Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Lifecycle returns the per-module lifecycle configuration
func (c Config) Lifecycle() lifecycle.Config {
	return lifecycle.Config{
		Exclusions:           c.Scan.Exclusions,
		FastPathOnly:         c.Scan.FastPathOnly,
		ScanDirectories:      c.Scan.ScanDirectories,
		ForceSecurityCleanup: c.Reclaim.ForceSecurityCleanup,
		SecurityServices:     c.Reclaim.SecurityServices,
	}
}

// absClasspath makes relative filesystem entries absolute. Locators with a
// scheme are kept as they are.
func absClasspath(entries []string) []string {
	if entries == nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if i := strings.Index(entry, ":"); i > 1 || filepath.IsAbs(entry) {
			out = append(out, entry)
			continue
		}
		abs, err := filepath.Abs(filepath.FromSlash(entry))
		if err != nil {
			out = append(out, entry)
			continue
		}
		out = append(out, abs)
	}
	return out
}
