package scan

import (
	"net/http"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Option configures the Scanner
type Option func(*Scanner)

// WithFastPathOnly limits scans to the module-owned classpath segment
func WithFastPathOnly(fast bool) Option {
	return func(s *Scanner) {
		s.fastPathOnly = fast
	}
}

// WithScanAllFiles treats every regular file as an archive, not only .jar
// and .zip files
func WithScanAllFiles(all bool) Option {
	return func(s *Scanner) {
		s.scanAllFiles = all
	}
}

// WithScanDirectories visits exploded archive directories
func WithScanDirectories(dirs bool) Option {
	return func(s *Scanner) {
		s.scanDirectories = dirs
	}
}

// WithScanRoot includes the root context's classpath in full scans
func WithScanRoot(root bool) Option {
	return func(s *Scanner) {
		s.scanRoot = root
	}
}

// WithCacheSize sets how many archive listings are cached
func WithCacheSize(size int) Option {
	return func(s *Scanner) {
		s.cacheSize = size
	}
}

// WithFs sets the filesystem locators are resolved against
func WithFs(fs afero.Fs) Option {
	return func(s *Scanner) {
		s.fs = fs
	}
}

// WithHTTPClient sets the client used for http and https locators
func WithHTTPClient(client *http.Client) Option {
	return func(s *Scanner) {
		s.client = client
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}
