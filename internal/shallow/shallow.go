// Package shallow reads and appends the shallow-state file: one commit SHA
// per line, oldest first, never rewritten.
package shallow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/gofrs/flock"
)

// FileName is the shallow-state file relative to the git dir.
const FileName = "shallow"

// LockName is the advisory lock guarding appends. It must differ from
// shallow.lock, which git creates and expects to be absent.
const LockName = "prefetch-shallow.lock"

const lockRetryDelay = 50 * time.Millisecond

// State is the parsed content of the shallow-state file.
type State struct {
	Lines []string
}

// Tip returns the last non-blank line, the most recently fetched commit.
func (s State) Tip() (string, bool) {
	for i := len(s.Lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(s.Lines[i]); line != "" {
			return line, true
		}
	}
	return "", false
}

// IsBlank reports whether the file holds no commit at all.
func (s State) IsBlank() bool {
	_, ok := s.Tip()
	return !ok
}

// History returns the non-blank lines, oldest first.
func (s State) History() []string {
	var out []string
	for _, line := range s.Lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// File is the shallow-state file of one repository.
type File struct {
	fs          billy.Filesystem
	name        string
	lockPath    string
	lockTimeout time.Duration
}

// New returns a File stored as name inside fs. No cross-process locking is
// performed; use NewOS for a real git dir.
func New(fs billy.Filesystem, name string) *File {
	return &File{fs: fs, name: name}
}

// NewOS returns the shallow file of gitDir. Appends are serialized across
// processes through LockName, waiting at most lockTimeout.
func NewOS(gitDir string, lockTimeout time.Duration) *File {
	return &File{
		fs:          osfs.New(gitDir),
		name:        FileName,
		lockPath:    filepath.Join(gitDir, LockName),
		lockTimeout: lockTimeout,
	}
}

// Read returns the file's state. The boolean is false when the file does not
// exist, which is not an error: the first fetch has no previous commit.
func (f *File) Read() (State, bool, error) {
	data, err := util.ReadFile(f.fs, f.name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("reading shallow file %s: %w", f.name, err)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return State{Lines: []string{}}, true, nil
	}
	return State{Lines: strings.Split(text, "\n")}, true, nil
}

// Append adds sha as the new last line.
func (f *File) Append(ctx context.Context, sha string) error {
	sha = strings.TrimSpace(sha)
	if sha == "" {
		return fmt.Errorf("appending to shallow file: empty commit")
	}

	unlock, err := f.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	fh, err := f.fs.OpenFile(f.name, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening shallow file %s: %w", f.name, err)
	}

	line := sha + "\n"
	if needsNewline(f.fs, f.name) {
		line = "\n" + line
	}
	if _, err := io.WriteString(fh, line); err != nil {
		_ = fh.Close()
		return fmt.Errorf("writing shallow file %s: %w", f.name, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("closing shallow file %s: %w", f.name, err)
	}
	return nil
}

func (f *File) lock(ctx context.Context) (func(), error) {
	if f.lockPath == "" {
		return func() {}, nil
	}

	fileLock := flock.New(f.lockPath)
	lockCtx := ctx
	if f.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, f.lockTimeout)
		defer cancel()
	}

	locked, err := fileLock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("locking shallow file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("locking shallow file: timeout after %v", f.lockTimeout)
	}
	return func() { _ = fileLock.Unlock() }, nil
}

// needsNewline reports whether the existing content lacks a final newline.
func needsNewline(fs billy.Filesystem, name string) bool {
	data, err := util.ReadFile(fs, name)
	if err != nil || len(data) == 0 {
		return false
	}
	return data[len(data)-1] != '\n'
}
