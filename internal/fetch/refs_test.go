package fetch

import (
	"context"
	"os/exec"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/prefetch/internal/gitcmd"
	"github.com/bianoble/prefetch/internal/remote"
)

const (
	shaMain = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	shaDev  = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func refSet(branches map[string]string) *remote.RefSet {
	var refs []*plumbing.Reference
	for name, sha := range branches {
		refs = append(refs, plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), plumbing.NewHash(sha)))
	}
	return remote.NewRefSet("origin", refs)
}

func TestUpdateRefsSinglePair(t *testing.T) {
	e := newEnv(t)
	f := e.fetcher("")

	err := f.UpdateRefs(context.Background(), "main", true, refSet(map[string]string{"main": shaMain}))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"refs/remotes/origin/main": shaMain}, e.runner.direct)
	assert.Empty(t, e.runner.symbolic)
	assert.Equal(t, shaMain+"\n", e.shallowContent())
}

func TestUpdateRefsCommitAppendsOnly(t *testing.T) {
	e := newEnv(t)
	e.writeShallow(shaDev + "\n")
	f := e.fetcher("")

	require.NoError(t, f.UpdateRefs(context.Background(), shaMain, false, nil))
	assert.Equal(t, 0, e.runner.callCount())
	assert.Equal(t, shaDev+"\n"+shaMain+"\n", e.shallowContent())
}

func TestUpdateRefsPairCountInvariant(t *testing.T) {
	tests := map[string]*remote.RefSet{
		"zero pairs": refSet(nil),
		"two pairs":  refSet(map[string]string{"main": shaMain, "dev": shaDev}),
	}
	for name, refs := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			f := e.fetcher("")

			inv := recoverInvariant(t, func() {
				_ = f.UpdateRefs(context.Background(), "main", true, refs)
			})
			assert.Contains(t, inv.Error(), "exactly one ref")
			assert.Empty(t, e.shallowContent())
			assert.Equal(t, 0, e.runner.callCount())
		})
	}
}

func TestUpdateRefSymbolicVersusDirect(t *testing.T) {
	tests := []struct {
		target   string
		symbolic bool
	}{
		{"refs/heads/main", true},
		{"REFS/heads/main", true},
		{"Refs/tags/v1", true},
		{shaMain, false},
		{"main", false},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			e := newEnv(t)
			f := e.fetcher("")

			require.NoError(t, f.updateRef(context.Background(), "refs/remotes/origin/main", tt.target))
			if tt.symbolic {
				assert.Equal(t, tt.target, e.runner.symbolic["refs/remotes/origin/main"])
				assert.Empty(t, e.runner.direct)
			} else {
				assert.Equal(t, tt.target, e.runner.direct["refs/remotes/origin/main"])
				assert.Empty(t, e.runner.symbolic)
			}
		})
	}
}

func TestUpdateRefSpecReplaces(t *testing.T) {
	e := newEnv(t)
	f := e.fetcher("")
	ctx := context.Background()

	require.True(t, f.UpdateRefSpec(ctx, "main", refSet(map[string]string{"main": shaMain})))
	require.True(t, f.UpdateRefSpec(ctx, "dev", refSet(map[string]string{"dev": shaDev})))

	assert.Equal(t, []string{"+refs/heads/dev:refs/remotes/origin/dev"}, e.runner.config["remote.origin.fetch"])
	assert.False(t, f.HasFailures())
}

func TestUpdateRefSpecFullRefName(t *testing.T) {
	e := newEnv(t)
	f := e.fetcher("")

	require.True(t, f.UpdateRefSpec(context.Background(), "refs/heads/main", refSet(map[string]string{"main": shaMain})))
	assert.Equal(t, []string{"+refs/heads/main:refs/remotes/origin/main"}, e.runner.config["remote.origin.fetch"])
}

func TestUpdateRefSpecFailure(t *testing.T) {
	e := newEnv(t)
	e.runner.failConfig = true
	f := e.fetcher("")

	assert.False(t, f.UpdateRefSpec(context.Background(), "main", refSet(map[string]string{"main": shaMain})))
	assert.True(t, f.HasFailures())
}

func TestUpdateRefSpecWithGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	ctx := context.Background()
	runner := gitcmd.New(t.TempDir(), "", nil)
	require.False(t, runner.Run(ctx, "init", "-q").HasErrors())
	require.False(t, runner.Run(ctx, "config", "--local", "--add", "remote.origin.fetch", "+refs/heads/*:refs/remotes/origin/*").HasErrors())

	e := newEnv(t)
	f := e.fetcher("")
	f.Runner = runner

	require.True(t, f.UpdateRefSpec(ctx, "main", refSet(map[string]string{"main": shaMain})))
	require.True(t, f.UpdateRefSpec(ctx, "dev", refSet(map[string]string{"dev": shaDev})))

	values, res := runner.GetLocalConfigAll(ctx, "remote.origin.fetch")
	require.False(t, res.HasErrors(), res.Errors)
	assert.Equal(t, []string{"+refs/heads/dev:refs/remotes/origin/dev"}, values)
}

func TestFetchErrorMessage(t *testing.T) {
	err := &FetchError{Op: "download commit", Target: shaMain, Endpoint: "https://example.com/gvfs", Err: ErrCommitUnavailable}
	assert.Equal(t,
		"download commit failed for '"+shaMain+"': commit could not be made local (objects endpoint https://example.com/gvfs)",
		err.Error())
	assert.ErrorIs(t, err, ErrCommitUnavailable)
}
