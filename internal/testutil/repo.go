// Package testutil builds in-memory source repositories and a fake objects
// endpoint serving real packfiles from them.
package testutil

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/objfile"
	"github.com/go-git/go-git/v5/plumbing/format/packfile"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Repo is an in-memory source repository whose default branch is main.
type Repo struct {
	t          testing.TB
	Repository *git.Repository
	Storer     *memory.Storage
	when       time.Time
}

// NewRepo creates an empty repository with HEAD pointing at refs/heads/main.
func NewRepo(t testing.TB) *Repo {
	t.Helper()
	st := memory.NewStorage()
	repo, err := git.Init(st, memfs.New())
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))
	if err := st.SetReference(head); err != nil {
		t.Fatalf("set HEAD: %v", err)
	}
	return &Repo{
		t:          t,
		Repository: repo,
		Storer:     st,
		when:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Commit writes files (path → content), removes the given paths and commits
// on the current branch. It returns the new commit SHA.
func (r *Repo) Commit(files map[string]string, removed ...string) string {
	r.t.Helper()
	wt, err := r.Repository.Worktree()
	if err != nil {
		r.t.Fatalf("worktree: %v", err)
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := util.WriteFile(wt.Filesystem, p, []byte(files[p]), 0644); err != nil {
			r.t.Fatalf("write %s: %v", p, err)
		}
		if _, err := wt.Add(p); err != nil {
			r.t.Fatalf("add %s: %v", p, err)
		}
	}
	for _, p := range removed {
		if _, err := wt.Remove(p); err != nil {
			r.t.Fatalf("remove %s: %v", p, err)
		}
	}

	r.when = r.when.Add(time.Minute)
	h, err := wt.Commit("commit", &git.CommitOptions{
		Author:            &object.Signature{Name: "test", Email: "test@test.com", When: r.when},
		AllowEmptyCommits: true,
	})
	if err != nil {
		r.t.Fatalf("commit: %v", err)
	}
	return h.String()
}

// SetBranch points refs/heads/<name> at sha.
func (r *Repo) SetBranch(name, sha string) {
	r.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), plumbing.NewHash(sha))
	if err := r.Storer.SetReference(ref); err != nil {
		r.t.Fatalf("set branch %s: %v", name, err)
	}
}

// Tip returns the commit refs/heads/<name> points at.
func (r *Repo) Tip(name string) string {
	r.t.Helper()
	ref, err := r.Storer.Reference(plumbing.NewBranchReferenceName(name))
	if err != nil {
		r.t.Fatalf("branch %s: %v", name, err)
	}
	return ref.Hash().String()
}

// BlobsUnder returns the sorted, distinct blob SHAs of files in commit whose
// path starts with prefix ("" matches every file).
func (r *Repo) BlobsUnder(commit, prefix string) []string {
	r.t.Helper()
	c, err := object.GetCommit(r.Storer, plumbing.NewHash(commit))
	if err != nil {
		r.t.Fatalf("commit %s: %v", commit, err)
	}
	files, err := c.Files()
	if err != nil {
		r.t.Fatalf("files %s: %v", commit, err)
	}

	seen := make(map[string]bool)
	err = files.ForEach(func(f *object.File) error {
		if strings.HasPrefix(f.Name, prefix) {
			seen[f.Hash.String()] = true
		}
		return nil
	})
	if err != nil {
		r.t.Fatalf("walk %s: %v", commit, err)
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// CommitObjects returns the commit and every tree reachable from it: what a
// depth-1 commit download carries.
func (r *Repo) CommitObjects(commit string) []plumbing.Hash {
	r.t.Helper()
	c, err := object.GetCommit(r.Storer, plumbing.NewHash(commit))
	if err != nil {
		r.t.Fatalf("commit %s: %v", commit, err)
	}
	tree, err := c.Tree()
	if err != nil {
		r.t.Fatalf("tree %s: %v", commit, err)
	}

	hashes := []plumbing.Hash{c.Hash, tree.Hash}
	w := object.NewTreeWalker(tree, true, nil)
	defer w.Close()
	for {
		_, entry, err := w.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.t.Fatalf("walk tree %s: %v", tree.Hash, err)
		}
		if entry.Mode == filemode.Dir {
			hashes = append(hashes, entry.Hash)
		}
	}
	return hashes
}

// Pack encodes the given objects as a packfile.
func (r *Repo) Pack(hashes []plumbing.Hash) []byte {
	r.t.Helper()
	var buf bytes.Buffer
	if _, err := packfile.NewEncoder(&buf, r.Storer, false).Encode(hashes, 10); err != nil {
		r.t.Fatalf("encode pack: %v", err)
	}
	return buf.Bytes()
}

// Loose encodes one object in the zlib loose-object format.
func (r *Repo) Loose(h plumbing.Hash) []byte {
	r.t.Helper()
	obj, err := r.Storer.EncodedObject(plumbing.AnyObject, h)
	if err != nil {
		r.t.Fatalf("object %s: %v", h, err)
	}
	rc, err := obj.Reader()
	if err != nil {
		r.t.Fatalf("read %s: %v", h, err)
	}
	defer func() { _ = rc.Close() }()

	var buf bytes.Buffer
	w := objfile.NewWriter(&buf)
	if err := w.WriteHeader(obj.Type(), obj.Size()); err != nil {
		r.t.Fatalf("loose header %s: %v", h, err)
	}
	if _, err := io.Copy(w, rc); err != nil {
		r.t.Fatalf("loose body %s: %v", h, err)
	}
	if err := w.Close(); err != nil {
		r.t.Fatalf("loose close %s: %v", h, err)
	}
	return buf.Bytes()
}

// Has reports whether the repository holds the object.
func (r *Repo) Has(h plumbing.Hash) bool {
	return r.Storer.HasEncodedObject(h) == nil
}

// ObjectType returns the type of an object, or InvalidObject when absent.
func (r *Repo) ObjectType(h plumbing.Hash) plumbing.ObjectType {
	obj, err := r.Storer.EncodedObject(plumbing.AnyObject, h)
	if err != nil {
		return plumbing.InvalidObject
	}
	return obj.Type()
}

// Lister advertises the repository's branch refs the way a remote would.
type Lister struct {
	Repo *Repo
	Err  error
	// Extra refs appended to the advertisement.
	Extra []*plumbing.Reference
}

// ListContext returns every hash reference of the repository.
func (l *Lister) ListContext(_ context.Context, _ *git.ListOptions) ([]*plumbing.Reference, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	iter, err := l.Repo.Storer.IterReferences()
	if err != nil {
		return nil, err
	}
	var refs []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() == plumbing.HashReference {
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return append(refs, l.Extra...), nil
}
