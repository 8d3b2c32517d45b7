package lifecycle

import (
	"fmt"
	"path"
)

// Config is the module lifecycle configuration
type Config struct {
	// Exclusions are glob patterns over archive file names never scanned.
	// Nil means the scanner's defaults.
	Exclusions []string `mapstructure:"exclusions" yaml:"exclusions"`

	// FastPathOnly limits discovery to the module's own classpath
	FastPathOnly bool `mapstructure:"fast_path_only" yaml:"fast_path_only"`

	// ScanDirectories also discovers exploded archive directories
	ScanDirectories bool `mapstructure:"scan_directories" yaml:"scan_directories"`

	// ForceSecurityCleanup removes security services of unknown ownership
	ForceSecurityCleanup bool `mapstructure:"force_security_cleanup" yaml:"force_security_cleanup"`

	// SecurityServices are the service names checked on stop
	SecurityServices []string `mapstructure:"security_services" yaml:"security_services"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		FastPathOnly:     true,
		SecurityServices: []string{"BC"},
	}
}

// Validate checks exclusion patterns are well formed
func (c Config) Validate() error {
	for _, pattern := range c.Exclusions {
		if _, err := path.Match(pattern, ""); err != nil {
			return ErrInvalidConfiguration(fmt.Sprintf("exclusion pattern %q is malformed", pattern), err)
		}
	}
	for _, svc := range c.SecurityServices {
		if svc == "" {
			return ErrInvalidConfiguration("security service names must not be empty", nil)
		}
	}
	return nil
}
