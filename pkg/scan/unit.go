package scan

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
)

// Kind tells archives from exploded directories
type Kind int

const (
	// KindArchive is a compressed archive
	KindArchive Kind = iota
	// KindDirectory is an exploded archive directory
	KindDirectory
)

// String returns the string representation of a Kind
func (k Kind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Unit is one discovered classpath unit
type Unit struct {
	// Locator is the entry as it appeared on the classpath, or the resolved
	// filesystem path for relative entries
	Locator string

	// Path is set for units on the scanner's filesystem
	Path string

	Kind Kind

	// Owned is set for units of the module's own classpath segment
	Owned bool

	scanner *Scanner
}

// Remote reports whether the unit is fetched over the network
func (u Unit) Remote() bool {
	return u.Path == ""
}

// Open returns the unit's bytes. Directories cannot be opened as a stream.
func (u Unit) Open(ctx context.Context) (io.ReadCloser, error) {
	if u.Kind == KindDirectory {
		return nil, fmt.Errorf("%s is a directory", u.Locator)
	}
	if u.scanner == nil {
		return nil, errors.New("unit was not produced by a scanner")
	}
	if !u.Remote() {
		return u.scanner.fs.Open(u.Path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.Locator, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.scanner.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", u.Locator, resp.Status)
	}
	return resp.Body, nil
}

// Archive reads the unit and opens it as a zip archive
func (u Unit) Archive(ctx context.Context) (*zip.Reader, error) {
	rc, err := u.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.Locator, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", u.Locator, err)
	}
	return zr, nil
}

// Entries lists the unit's contents: archive member names, or the relative
// file paths of an exploded directory. Listings of local units are cached
// until the unit changes on disk.
func (u Unit) Entries(ctx context.Context) ([]string, error) {
	key, cacheable := u.cacheKey()
	if cacheable {
		if names, ok := u.scanner.listings.Get(key); ok {
			return names, nil
		}
	}

	var (
		names []string
		err   error
	)
	if u.Kind == KindDirectory {
		names, err = u.walk()
	} else {
		var zr *zip.Reader
		zr, err = u.Archive(ctx)
		if err == nil {
			names = make([]string, 0, len(zr.File))
			for _, f := range zr.File {
				names = append(names, f.Name)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	if cacheable {
		u.scanner.listings.Add(key, names)
	}
	return names, nil
}

func (u Unit) cacheKey() (string, bool) {
	if u.scanner == nil || u.Remote() || u.Kind == KindDirectory {
		return "", false
	}
	info, err := u.scanner.fs.Stat(u.Path)
	if err != nil {
		return "", false
	}
	return u.Path + "|" + strconv.FormatInt(info.Size(), 10) + "|" + strconv.FormatInt(info.ModTime().UnixNano(), 10), true
}

func (u Unit) walk() ([]string, error) {
	if u.scanner == nil {
		return nil, errors.New("unit was not produced by a scanner")
	}
	var names []string
	err := afero.Walk(u.scanner.fs, u.Path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(u.Path, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	return names, err
}
