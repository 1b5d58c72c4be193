// Package cache tracks which remote resources already exist in the local cache.
//
// Presence is always read from the filesystem; nothing is remembered between
// calls, so external deletions are seen immediately.
package cache

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Store is a local filesystem cache rooted at one data directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at root. The directory is not created;
// subtrees appear lazily as parents of written files.
func NewStore(root string) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root: %w", err)
	}
	return &Store{root: absRoot}, nil
}

// Root returns the absolute cache root.
func (s *Store) Root() string {
	return s.root
}

// Exists reports whether a non-empty regular file is present at path.
// A zero-length file is treated as a miss so an interrupted write is
// re-fetched instead of served.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// EnsureParentDirs creates every missing directory above path.
func (s *Store) EnsureParentDirs(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// Catalog walks dir and returns the sorted paths of files whose name ends
// with suffix. An empty suffix matches every file. A missing dir yields an
// empty catalog.
func (s *Store) Catalog(dir, suffix string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if suffix == "" || strings.HasSuffix(d.Name(), suffix) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to catalog %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// Remove deletes one cached file. Removing a missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Clear deletes the files under dir matching suffix and then prunes
// directories left empty. It returns the number of files removed.
func (s *Store) Clear(dir, suffix string) (int, error) {
	files, err := s.Catalog(dir, suffix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if err := s.Remove(f); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, s.pruneEmptyDirs(dir)
}

// pruneEmptyDirs removes empty directories below dir, deepest first.
func (s *Store) pruneEmptyDirs(dir string) error {
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() && path != dir {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			if err := os.Remove(dirs[i]); err != nil {
				return fmt.Errorf("failed to remove empty directory: %w", err)
			}
		}
	}
	return nil
}

// Rel returns path relative to the cache root using forward slashes, for
// use as an object key.
func (s *Store) Rel(path string) (string, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside cache root %s", path, s.root)
	}
	return filepath.ToSlash(rel), nil
}

// ReadText reads a cached text resource stored in the provider's Latin-1
// encoding and returns it as UTF-8.
func (s *Store) ReadText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open cached file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(charmap.ISO8859_1.NewDecoder().Reader(f))
	if err != nil {
		return "", fmt.Errorf("failed to decode cached file: %w", err)
	}
	return string(data), nil
}
