// Package gitobj is the local object store accessor: existence checks, pack
// indexing and loose object writes on top of go-git storage.
package gitobj

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/format/objfile"
	"github.com/go-git/go-git/v5/plumbing/format/packfile"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

var shaPattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// ValidSHA reports whether s is a full 40-hex object id.
func ValidSHA(s string) bool {
	return shaPattern.MatchString(s)
}

// Store guards a go-git object storer. go-git storage is not safe for
// concurrent writes, so writes are exclusive and lookups share a read lock.
type Store struct {
	mu     sync.RWMutex
	storer storer.Storer
}

// Open returns the Store of the repository whose git dir is gitDir.
func Open(gitDir string) (*Store, error) {
	info, err := os.Stat(gitDir)
	if err != nil {
		return nil, fmt.Errorf("opening object store %s: %w", gitDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("opening object store %s: not a directory", gitDir)
	}

	s := New(filesystem.NewStorage(osfs.New(gitDir), cache.NewObjectLRUDefault()))
	// Load the pack indexes up front so concurrent lookups only read them.
	_ = s.storer.HasEncodedObject(plumbing.ZeroHash)
	return s, nil
}

// New wraps an existing storer, such as an in-memory one.
func New(st storer.Storer) *Store {
	return &Store{storer: st}
}

// Storer exposes the underlying storer for read-only tree walks.
func (s *Store) Storer() storer.EncodedObjectStorer {
	return s.storer
}

// ObjectExists reports whether sha resolves locally.
func (s *Store) ObjectExists(sha string) bool {
	if !ValidSHA(sha) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storer.HasEncodedObject(plumbing.NewHash(sha)) == nil
}

// IndexPack applies a packfile to the store, making its objects resolvable.
func (s *Store) IndexPack(ctx context.Context, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := packfile.UpdateObjectStorage(s.storer, r); err != nil {
		return fmt.Errorf("indexing pack: %w", err)
	}
	return nil
}

// WriteLooseObject stores one zlib-compressed loose object and returns its id.
func (s *Store) WriteLooseObject(r io.Reader) (string, error) {
	or, err := objfile.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("reading loose object: %w", err)
	}
	defer func() { _ = or.Close() }()

	typ, size, err := or.Header()
	if err != nil {
		return "", fmt.Errorf("reading loose object header: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.storer.NewEncodedObject()
	obj.SetType(typ)
	obj.SetSize(size)
	w, err := obj.Writer()
	if err != nil {
		return "", fmt.Errorf("writing loose object: %w", err)
	}
	if _, err := io.Copy(w, or); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("writing loose object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("writing loose object: %w", err)
	}

	h, err := s.storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("storing loose object: %w", err)
	}
	if h != or.Hash() {
		return "", fmt.Errorf("storing loose object: hash mismatch %s != %s", h, or.Hash())
	}
	return h.String(), nil
}
