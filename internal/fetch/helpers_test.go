package fetch

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/bianoble/prefetch/internal/diff"
	"github.com/bianoble/prefetch/internal/gitcmd"
	"github.com/bianoble/prefetch/internal/gitobj"
	"github.com/bianoble/prefetch/internal/remote"
	"github.com/bianoble/prefetch/internal/scope"
	"github.com/bianoble/prefetch/internal/shallow"
	"github.com/bianoble/prefetch/internal/staging"
	"github.com/bianoble/prefetch/internal/testutil"
)

var enlistmentRoot = filepath.Join(string(filepath.Separator), "work", "repo")

// fakeRunner records git mutations and models config --replace-all.
type fakeRunner struct {
	mu         sync.Mutex
	config     map[string][]string
	direct     map[string]string
	symbolic   map[string]string
	calls      []string
	failConfig bool
	failRefs   bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		config:   make(map[string][]string),
		direct:   make(map[string]string),
		symbolic: make(map[string]string),
	}
}

func (r *fakeRunner) SetLocalConfig(_ context.Context, key, value string, replaceAll bool) gitcmd.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "config "+key)
	if r.failConfig {
		return gitcmd.Result{ExitCode: 255, Errors: "could not lock config file"}
	}
	if replaceAll {
		r.config[key] = []string{value}
	} else {
		r.config[key] = append(r.config[key], value)
	}
	return gitcmd.Result{}
}

func (r *fakeRunner) UpdateBranchSymbolicRef(_ context.Context, ref, target string) gitcmd.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "symbolic-ref "+ref)
	if r.failRefs {
		return gitcmd.Result{ExitCode: 128, Errors: "cannot lock ref"}
	}
	r.symbolic[ref] = target
	return gitcmd.Result{}
}

func (r *fakeRunner) UpdateBranchSha(_ context.Context, ref, sha string) gitcmd.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "update-ref "+ref)
	if r.failRefs {
		return gitcmd.Result{ExitCode: 128, Errors: "cannot lock ref"}
	}
	r.direct[ref] = sha
	return gitcmd.Result{}
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// recordingDiff remembers the commits each diff was asked for.
type recordingDiff struct {
	inner DiffScoper
	mu    sync.Mutex
	calls [][2]string
	last  diff.Result
}

func (d *recordingDiff) PerformDiff(ctx context.Context, previous, target string) (diff.Result, error) {
	res, err := d.inner.PerformDiff(ctx, previous, target)
	d.mu.Lock()
	d.calls = append(d.calls, [2]string{previous, target})
	d.last = res
	d.mu.Unlock()
	return res, err
}

// env is a source repository, its objects endpoint and a local enlistment
// that persists across fetches.
type env struct {
	t        *testing.T
	repo     *testutil.Repo
	server   *testutil.ObjectServer
	store    *gitobj.Store
	fs       billy.Filesystem
	shallow  *shallow.File
	runner   *fakeRunner
	staging  *staging.Dir
	recorder *tracetest.SpanRecorder
	diffs    *recordingDiff
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo := testutil.NewRepo(t)
	dir, err := staging.New(t.TempDir())
	require.NoError(t, err)
	fs := memfs.New()
	return &env{
		t:       t,
		repo:    repo,
		server:  testutil.NewObjectServer(t, repo),
		store:   gitobj.New(memory.NewStorage()),
		fs:      fs,
		shallow: shallow.New(fs, shallow.FileName),
		runner:  newFakeRunner(),
		staging: dir,
	}
}

func (e *env) client() *remote.Client {
	return &remote.Client{
		RemoteName: "origin",
		RepoURL:    "https://example.com/repo.git",
		Objects:    e.server.URL(),
		Lister:     &testutil.Lister{Repo: e.repo},
		Store:      e.store,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}
}

// fetcher returns a fresh Fetcher scoped to the given folders.
func (e *env) fetcher(folders string) *Fetcher {
	e.t.Helper()
	dirs, err := scope.LoadFolders(enlistmentRoot, folders, "")
	require.NoError(e.t, err)

	e.recorder = tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(e.recorder))
	e.diffs = &recordingDiff{inner: &diff.Scoper{
		Objects: e.store.Storer(),
		Scope:   diff.Scope{Root: enlistmentRoot, Folders: dirs},
	}}

	return &Fetcher{
		RemoteName: "origin",
		Remote:     e.client(),
		Store:      e.store,
		Diff:       e.diffs,
		Runner:     e.runner,
		Shallow:    e.shallow,
		Staging:    e.staging,
		Options: Options{
			SearchThreads:   2,
			DownloadThreads: 2,
			IndexThreads:    2,
			ChunkSize:       2,
			QueueDepth:      4,
		},
		Tracer: tp.Tracer("fetch-test"),
	}
}

func (e *env) shallowContent() string {
	e.t.Helper()
	data, err := util.ReadFile(e.fs, shallow.FileName)
	if err != nil {
		return ""
	}
	return string(data)
}

func (e *env) writeShallow(content string) {
	e.t.Helper()
	require.NoError(e.t, util.WriteFile(e.fs, shallow.FileName, []byte(content), 0644))
}

func (e *env) span(name string) sdktrace.ReadOnlySpan {
	e.t.Helper()
	for _, s := range e.recorder.Ended() {
		if s.Name() == name {
			return s
		}
	}
	e.t.Fatalf("span %s not recorded", name)
	return nil
}

// recoverInvariant runs fn and returns the *InvariantError it panicked with.
func recoverInvariant(t *testing.T, fn func()) (inv *InvariantError) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		var ok bool
		inv, ok = r.(*InvariantError)
		require.True(t, ok, "panic value %T is not *InvariantError", r)
	}()
	fn()
	return nil
}
