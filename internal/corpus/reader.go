// Package corpus enumerates the local documents offered to the remote index.
package corpus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultMaxDocuments caps how many documents a run considers.
const DefaultMaxDocuments = 10

// DefaultPatterns selects PDF files.
var DefaultPatterns = []string{"*.pdf"}

// ErrDirectoryNotFound is returned when the corpus directory is missing.
var ErrDirectoryNotFound = errors.New("directory not found")

// Document is a local file. Name is the sync key and is case-sensitive.
type Document struct {
	Name string
	Path string
	Size int64
}

// Reader lists documents in a directory.
type Reader struct {
	// Patterns are doublestar globs matched against the lowercased file name.
	Patterns []string
	// MaxDocuments truncates the listing; <= 0 means DefaultMaxDocuments.
	MaxDocuments int
}

// NewReader returns a Reader for PDF files capped at maxDocuments.
func NewReader(maxDocuments int) *Reader {
	return &Reader{Patterns: DefaultPatterns, MaxDocuments: maxDocuments}
}

// List returns the eligible documents in dir in filename order, truncated to
// MaxDocuments. Subdirectories are not descended into; symlinks to regular
// files are listed under the link name.
func (r *Reader) List(dir string) ([]Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectoryNotFound, dir)
	}

	// os.ReadDir sorts by filename, which makes truncation deterministic.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	limit := r.MaxDocuments
	if limit <= 0 {
		limit = DefaultMaxDocuments
	}

	docs := make([]Document, 0, min(len(entries), limit))
	for _, e := range entries {
		if len(docs) >= limit {
			break
		}
		if !r.Match(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		fi, ok := regularFile(e, path)
		if !ok {
			continue
		}
		docs = append(docs, Document{
			Name: e.Name(),
			Path: path,
			Size: fi.Size(),
		})
	}
	return docs, nil
}

// regularFile reports whether e is a regular file, following a symlink to
// its target. Dangling links and entries removed since ReadDir are skipped.
func regularFile(e fs.DirEntry, path string) (fs.FileInfo, bool) {
	var fi fs.FileInfo
	var err error
	switch {
	case e.Type().IsRegular():
		fi, err = e.Info()
	case e.Type()&fs.ModeSymlink != 0:
		fi, err = os.Stat(path)
	default:
		return nil, false
	}
	if err != nil || !fi.Mode().IsRegular() {
		return nil, false
	}
	return fi, true
}

// Match reports whether name has a recognized extension. Matching is
// case-insensitive.
func (r *Reader) Match(name string) bool {
	patterns := r.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if ok, err := doublestar.Match(strings.ToLower(p), lower); err == nil && ok {
			return true
		}
	}
	return false
}
