package fetch

import (
	"context"
	"io"
	"os"

	"github.com/bianoble/prefetch/internal/diff"
	"github.com/bianoble/prefetch/internal/gitcmd"
	"github.com/bianoble/prefetch/internal/remote"
	"github.com/bianoble/prefetch/internal/shallow"
)

// RemoteClient queries refs and retrieves objects.
type RemoteClient interface {
	QueryRefs(ctx context.Context, branch string) (*remote.RefSet, error)
	EnsureCommitIsLocal(ctx context.Context, sha string, depth int) error
	DownloadObjects(ctx context.Context, shas []string, depth int) (*remote.ObjectResponse, error)
	ObjectsURL() string
}

// ObjectStore is the local object store.
type ObjectStore interface {
	ObjectExists(sha string) bool
	IndexPack(ctx context.Context, r io.Reader) error
	WriteLooseObject(r io.Reader) (string, error)
}

// DiffScoper produces the required-blob set between two commits.
type DiffScoper interface {
	PerformDiff(ctx context.Context, previous, target string) (diff.Result, error)
}

// CommandRunner performs ref and config mutations.
type CommandRunner interface {
	SetLocalConfig(ctx context.Context, key, value string, replaceAll bool) gitcmd.Result
	UpdateBranchSymbolicRef(ctx context.Context, ref, target string) gitcmd.Result
	UpdateBranchSha(ctx context.Context, ref, sha string) gitcmd.Result
}

// ShallowState is the shallow-state file.
type ShallowState interface {
	Read() (shallow.State, bool, error)
	Append(ctx context.Context, sha string) error
}

// Staging holds downloaded packs until they are indexed.
type Staging interface {
	Write(r io.Reader) (string, error)
	Open(path string) (*os.File, error)
	Remove(path string) error
}
