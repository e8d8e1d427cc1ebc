// Package staging holds downloaded pack files until the indexer has applied
// them to the object store.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const packExt = ".pack"

// Dir is a directory of staged pack files.
// Packs are written atomically, so a listed pack is always complete.
type Dir struct {
	dir string
}

// New creates a Dir at the given directory.
// The directory is created if it does not exist.
func New(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory %s: %w", dir, err)
	}
	return &Dir{dir: dir}, nil
}

// At returns a Dir for inspecting dir without creating it.
// A missing directory lists as empty.
func At(dir string) *Dir {
	return &Dir{dir: dir}
}

// Write stores the content of r as a new pack file and returns its path.
func (d *Dir) Write(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(d.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating staging temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return "", fmt.Errorf("writing staging temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("syncing staging temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing staging temp file: %w", err)
	}

	path := filepath.Join(d.dir, "pack-"+uuid.NewString()+packExt)
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("renaming staging temp file: %w", err)
	}

	success = true
	return path, nil
}

// Open opens a staged pack for reading.
func (d *Dir) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening staged pack: %w", err)
	}
	return f, nil
}

// Remove deletes a staged pack. Removing a missing pack is not an error.
func (d *Dir) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing staged pack %s: %w", path, err)
	}
	return nil
}

// List returns the staged packs, sorted by path.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing staging directory %s: %w", d.dir, err)
	}

	var packs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), packExt) {
			continue
		}
		packs = append(packs, filepath.Join(d.dir, e.Name()))
	}
	sort.Strings(packs)
	return packs, nil
}

// Size returns the total size of staged packs in bytes.
func (d *Dir) Size() (int64, error) {
	packs, err := d.List()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range packs {
		info, err := os.Stat(p)
		if err != nil {
			return 0, fmt.Errorf("stat staged pack: %w", err)
		}
		total += info.Size()
	}
	return total, nil
}

// Path returns the staging directory path.
func (d *Dir) Path() string {
	return d.dir
}
