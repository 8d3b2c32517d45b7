// Package scan discovers the archives and exploded archive directories a
// module brings along.
//
// The fast path only looks at the entries the module's own isolation context
// declares. The full path also walks the ancestor contexts, skipping anything
// the module segment already covers. Scanning never changes a classpath: the
// visitor is the only side effect, and a bad entry is logged and skipped
// rather than aborting the pass.
package scan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/trinidad/trinidad/pkg/loader"
)

// DefaultExclusions are the host's own archives, never worth scanning
var DefaultExclusions = []string{
	"trinidad-bridge*.jar",
	"trinidad-core*.jar",
	"trinidad-stdlib*.jar",
}

// markerDir identifies an exploded archive
const markerDir = "META-INF"

// Visitor is called once per discovered unit. An error is logged and the
// scan continues with the next entry.
type Visitor func(u Unit) error

// Stats summarizes one scan call
type Stats struct {
	Visited  int
	Excluded int
	Skipped  int
	Failed   int
}

// Scanner discovers units on module classpaths
type Scanner struct {
	fastPathOnly    bool
	scanAllFiles    bool
	scanDirectories bool
	scanRoot        bool
	cacheSize       int

	fs     afero.Fs
	client *http.Client
	logger *zap.Logger

	listings *lru.Cache[string, []string]
}

// New creates a scanner limited to the fast path by default
func New(opts ...Option) (*Scanner, error) {
	s := &Scanner{
		fastPathOnly: true,
		scanAllFiles: true,
		cacheSize:    256,
		fs:           afero.NewOsFs(),
		client:       http.DefaultClient,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	listings, err := lru.New[string, []string](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create listing cache: %w", err)
	}
	s.listings = listings
	return s, nil
}

// FastPathOnly reports whether scans stop after the module segment
func (s *Scanner) FastPathOnly() bool {
	return s.fastPathOnly
}

// pass is the state of one Scan call
type pass struct {
	s          *Scanner
	moduleRoot string
	exclusions []string
	owned      []string
	visited    map[string]struct{}
	visit      Visitor
	stats      Stats
}

// Scan discovers units for the search context. A nil exclusions slice means
// DefaultExclusions. Units are visited in classpath order and at most once.
// The returned error is only set when the scan itself could not run.
func (s *Scanner) Scan(ctx context.Context, moduleRoot string, search *loader.Context, exclusions []string, visit Visitor) (Stats, error) {
	if search == nil {
		return Stats{}, errors.New("no search context")
	}
	if exclusions == nil {
		exclusions = DefaultExclusions
	}

	p := &pass{
		s:          s,
		moduleRoot: moduleRoot,
		exclusions: exclusions,
		visited:    make(map[string]struct{}),
		visit:      visit,
	}

	classpath := search.Classpath()
	p.owned = classpath

	for _, entry := range classpath {
		if err := ctx.Err(); err != nil {
			return p.stats, err
		}
		if p.excluded(entry) {
			s.logger.Debug("Not scanning excluded entry", zap.String("locator", entry))
			p.stats.Excluded++
			continue
		}
		p.process(ctx, entry, true)
	}

	if s.fastPathOnly && classpath != nil {
		return p.stats, nil
	}

	for anc := search.Parent(); anc != nil; anc = anc.Parent() {
		if anc.IsRoot() && !s.scanRoot {
			break
		}
		for _, entry := range anc.Classpath() {
			if err := ctx.Err(); err != nil {
				return p.stats, err
			}
			if p.excluded(entry) || p.coveredByModule(entry) {
				p.stats.Excluded++
				continue
			}
			p.process(ctx, entry, false)
		}
	}

	return p.stats, nil
}

func (p *pass) excluded(entry string) bool {
	name := finalSegment(entry)
	for _, pattern := range p.exclusions {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (p *pass) coveredByModule(entry string) bool {
	for _, owned := range p.owned {
		if owned != "" && strings.Contains(entry, owned) {
			return true
		}
	}
	return false
}

func (p *pass) process(ctx context.Context, entry string, owned bool) {
	log := p.s.logger.With(zap.String("locator", entry))

	unit, ok, err := p.s.resolve(p.moduleRoot, entry)
	if err != nil {
		log.Warn("Failed to resolve classpath entry", zap.Error(err))
		p.stats.Failed++
		return
	}
	if !ok {
		log.Debug("Not scanning entry")
		p.stats.Skipped++
		return
	}
	key := unit.Locator
	if unit.Path != "" {
		key = filepath.Clean(unit.Path)
	}
	if _, seen := p.visited[key]; seen {
		p.stats.Skipped++
		return
	}
	p.visited[key] = struct{}{}

	unit.Owned = owned
	unit.scanner = p.s
	if err := p.visit(unit); err != nil {
		log.Warn("Failed to scan unit", zap.Error(err))
		p.stats.Failed++
		return
	}
	log.Debug("Scanned unit", zap.Stringer("kind", unit.Kind))
	p.stats.Visited++
}

// resolve turns a classpath entry into a unit. It reports false for entries
// that exist but are not scannable under the current options.
func (s *Scanner) resolve(moduleRoot, entry string) (Unit, bool, error) {
	if i := strings.Index(entry, ":"); i > 1 {
		u, err := url.Parse(entry)
		if err != nil {
			return Unit{}, false, fmt.Errorf("parse locator: %w", err)
		}
		switch u.Scheme {
		case "file":
			return s.resolvePath(entry, filepath.FromSlash(u.Path))
		case "http", "https":
			if !s.scanAllFiles && !isArchiveName(u.Path) {
				return Unit{}, false, nil
			}
			return Unit{Locator: entry, Kind: KindArchive}, true, nil
		default:
			return Unit{}, false, fmt.Errorf("unsupported locator scheme %q", u.Scheme)
		}
	}

	p := entry
	if !filepath.IsAbs(p) {
		p = filepath.Join(moduleRoot, filepath.FromSlash(p))
	}
	return s.resolvePath(p, p)
}

func (s *Scanner) resolvePath(locator, p string) (Unit, bool, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		return Unit{}, false, err
	}

	if info.IsDir() {
		if !s.scanDirectories {
			return Unit{}, false, nil
		}
		marker, err := s.fs.Stat(filepath.Join(p, markerDir))
		if err != nil || !marker.IsDir() {
			return Unit{}, false, nil
		}
		return Unit{Locator: locator, Path: p, Kind: KindDirectory}, true, nil
	}

	if !s.scanAllFiles && !isArchiveName(p) {
		return Unit{}, false, nil
	}
	return Unit{Locator: locator, Path: p, Kind: KindArchive}, true, nil
}

func finalSegment(entry string) string {
	entry = strings.TrimRight(entry, "/")
	if i := strings.LastIndexAny(entry, `/\`); i >= 0 {
		return entry[i+1:]
	}
	return entry
}

func isArchiveName(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".jar" || ext == ".zip"
}
