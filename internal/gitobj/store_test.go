package gitobj

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/prefetch/internal/testutil"
)

func TestValidSHA(t *testing.T) {
	assert.True(t, ValidSHA("0123456789abcdef0123456789ABCDEF01234567"))
	assert.False(t, ValidSHA("main"))
	assert.False(t, ValidSHA("0123456789abcdef"))
	assert.False(t, ValidSHA(""))
}

func TestObjectExistsRejectsInvalidSHA(t *testing.T) {
	s := New(memory.NewStorage())
	assert.False(t, s.ObjectExists("refs/heads/main"))
}

func TestIndexPackMakesObjectsResolvable(t *testing.T) {
	src := testutil.NewRepo(t)
	commit := src.Commit(map[string]string{"src/a.txt": "a", "src/b.txt": "b"})
	blobs := src.BlobsUnder(commit, "src/")
	require.Len(t, blobs, 2)

	s := New(memory.NewStorage())
	for _, b := range blobs {
		assert.False(t, s.ObjectExists(b))
	}

	hashes := []plumbing.Hash{plumbing.NewHash(blobs[0]), plumbing.NewHash(blobs[1])}
	require.NoError(t, s.IndexPack(context.Background(), bytes.NewReader(src.Pack(hashes))))

	for _, b := range blobs {
		assert.True(t, s.ObjectExists(b))
	}
}

func TestIndexPackRejectsGarbage(t *testing.T) {
	s := New(memory.NewStorage())
	err := s.IndexPack(context.Background(), bytes.NewReader([]byte("not a pack")))
	assert.Error(t, err)
}

func TestIndexPackHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(memory.NewStorage()).IndexPack(ctx, bytes.NewReader(nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteLooseObject(t *testing.T) {
	src := testutil.NewRepo(t)
	commit := src.Commit(map[string]string{"README.md": "hello"})
	blob := src.BlobsUnder(commit, "")[0]

	s := New(memory.NewStorage())
	got, err := s.WriteLooseObject(bytes.NewReader(src.Loose(plumbing.NewHash(blob))))
	require.NoError(t, err)
	assert.Equal(t, blob, got)
	assert.True(t, s.ObjectExists(blob))
}

func TestOpenFilesystemStore(t *testing.T) {
	gitDir := filepath.Join(t.TempDir(), ".git")
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "objects", "pack"), 0755))

	s, err := Open(gitDir)
	require.NoError(t, err)

	src := testutil.NewRepo(t)
	commit := src.Commit(map[string]string{"docs/guide.md": "guide"})
	objects := src.CommitObjects(commit)
	require.NoError(t, s.IndexPack(context.Background(), bytes.NewReader(src.Pack(objects))))
	assert.True(t, s.ObjectExists(commit))

	entries, err := os.ReadDir(filepath.Join(gitDir, "objects", "pack"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "pack and index written to objects/pack")
}

func TestOpenMissingDir(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
