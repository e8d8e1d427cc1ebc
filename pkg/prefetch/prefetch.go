// Package prefetch provides the public Go library API for prefetch.
//
// prefetch downloads the blobs a virtualized working directory needs for a
// branch or commit, restricted to a set of files and folders, and records
// the fetched commit as the new shallow tip so the next run only fetches
// what changed.
//
// # Basic Usage
//
//	client, err := prefetch.New(prefetch.Options{ConfigPath: "prefetch.yaml"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := client.Fetch(ctx, prefetch.FetchOptions{
//	    Branch:  "main",
//	    Folders: "src/app;docs",
//	})
//
//	// Inspect the shallow history and staged packs
//	status, err := client.Status(ctx)
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/bianoble/prefetch/internal/config"
	"github.com/bianoble/prefetch/internal/diff"
	"github.com/bianoble/prefetch/internal/enlistment"
	"github.com/bianoble/prefetch/internal/fetch"
	"github.com/bianoble/prefetch/internal/gitcmd"
	"github.com/bianoble/prefetch/internal/gitobj"
	"github.com/bianoble/prefetch/internal/logging"
	"github.com/bianoble/prefetch/internal/metrics"
	"github.com/bianoble/prefetch/internal/remote"
	"github.com/bianoble/prefetch/internal/scope"
	"github.com/bianoble/prefetch/internal/shallow"
	"github.com/bianoble/prefetch/internal/staging"
)

const tracerName = "github.com/bianoble/prefetch"

// ErrTarget is returned when a fetch names neither or both of a branch and
// a commit, or names a malformed commit.
var ErrTarget = errors.New("exactly one of branch or commit is required")

// Options configures a prefetch client.
type Options struct {
	// Config is used as is when set; ConfigPath is then ignored.
	Config *config.Config

	// ConfigPath is the config file. If empty, prefetch.yaml in the current
	// directory is used when present, then the user-level file.
	ConfigPath string

	// Logger receives structured logs. Nil discards them.
	Logger *slog.Logger

	// HTTPClient performs object requests. Nil uses http.DefaultClient.
	HTTPClient remote.HTTPClient

	// Lister lists remote refs. Nil lists them over the git transport.
	Lister remote.RefLister

	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer
}

// FetchOptions selects the target and scope of one fetch.
type FetchOptions struct {
	Branch string
	Commit string

	// Files and Folders are ';'-separated lists relative to the enlistment
	// root. Files may start with '*' to match a suffix anywhere.
	Files   string
	Folders string
	// FoldersList is a file with one folder per line.
	FoldersList string

	// Zero values fall back to the configuration.
	SearchThreads   int
	DownloadThreads int
	IndexThreads    int
	ChunkSize       int

	SkipConfigUpdate bool

	// MetricsFile overrides metrics.textfile from the configuration.
	MetricsFile string
}

// Result holds the outcome of a fetch.
type Result struct {
	Stats
	Target   string
	IsBranch bool
	// Failed is set when any step failed. Refs and shallow state are then
	// left as they were.
	Failed   bool
	Duration time.Duration
}

// Status describes an enlistment's fetch state.
type Status struct {
	Root       string
	GitDir     string
	RemoteName string
	RepoURL    string
	ObjectsURL string

	ShallowPath string
	// ShallowExists is false when the enlistment has never been fetched.
	ShallowExists bool
	// ShallowHistory lists recorded tips, oldest first.
	ShallowHistory []string
	// Tip is the last recorded tip, empty when there is none.
	Tip string

	// RefSpecs are the remote's configured fetch refspecs.
	RefSpecs []string

	StagingDir string
	// StagedPacks are packs kept after a failed index.
	StagedPacks  []string
	StagingBytes int64
}

// Client is the main entry point for the prefetch library.
type Client struct {
	cfg        *config.Config
	enlistment *enlistment.Enlistment
	logger     *slog.Logger
	httpClient remote.HTTPClient
	lister     remote.RefLister
	tracer     trace.Tracer
}

// New creates a new prefetch Client.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		path := opts.ConfigPath
		if path == "" {
			path = config.Discover(config.FileName)
		}
		loaded, err := config.LoadOrDefault(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, &config.ValidationError{Errors: errs}
	}

	en, err := enlistment.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Client{
		cfg:        cfg,
		enlistment: en,
		logger:     logging.OrNop(opts.Logger),
		httpClient: opts.HTTPClient,
		lister:     opts.Lister,
		tracer:     tracer,
	}, nil
}

// Config returns the effective configuration.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Enlistment returns the resolved enlistment layout.
func (c *Client) Enlistment() *enlistment.Enlistment {
	return c.enlistment
}

// Fetch runs one scoped shallow fetch.
//
// Fatal errors are returned as errors. Soft failures return a Result with
// Failed set and a nil error.
func (c *Client) Fetch(ctx context.Context, opts FetchOptions) (*Result, error) {
	target, isBranch, err := resolveTarget(opts)
	if err != nil {
		return nil, err
	}

	en := c.enlistment
	folders, err := scope.LoadFolders(en.Root, opts.Folders, opts.FoldersList)
	if err != nil {
		return nil, err
	}
	files, err := scope.LoadFiles(en.Root, opts.Files)
	if err != nil {
		return nil, err
	}

	skipUpdate := opts.SkipConfigUpdate || c.cfg.Fetch.SkipConfigUpdate
	runner := gitcmd.New(en.Root, en.GitDir, c.logger)
	if !skipUpdate {
		if err := runner.CheckVersion(ctx); err != nil {
			return nil, err
		}
	}

	store, err := gitobj.Open(en.GitDir)
	if err != nil {
		return nil, err
	}
	stage, err := staging.New(en.StagingDir())
	if err != nil {
		return nil, err
	}

	lister := c.lister
	if lister == nil {
		lister = remote.NewLister(en.RemoteName, en.RepoURL)
	}
	client := &remote.Client{
		RemoteName: en.RemoteName,
		RepoURL:    en.RepoURL,
		Objects:    en.ObjectsURL,
		HTTP:       c.httpClient,
		Lister:     lister,
		Store:      store,
		MaxRetries: c.cfg.Fetch.MaxRetries,
		Limiter:    remote.NewLimiter(c.cfg.Fetch.RequestsPerSecond),
		Logger:     c.logger,
	}

	fc := c.cfg.Fetch
	f := &fetch.Fetcher{
		RemoteName: en.RemoteName,
		Remote:     client,
		Store:      store,
		Diff: &diff.Scoper{
			Objects: store.Storer(),
			Scope:   diff.Scope{Root: en.Root, Files: files, Folders: folders},
			Logger:  c.logger,
		},
		Runner:  runner,
		Shallow: shallow.NewOS(en.GitDir, fc.LockTimeout),
		Staging: stage,
		Options: fetch.Options{
			SearchThreads:    orDefault(opts.SearchThreads, fc.SearchThreadCount()),
			DownloadThreads:  orDefault(opts.DownloadThreads, fc.DownloadThreadCount()),
			IndexThreads:     orDefault(opts.IndexThreads, fc.IndexThreadCount()),
			ChunkSize:        orDefault(opts.ChunkSize, fc.ChunkSize),
			QueueDepth:       fc.QueueDepth,
			SkipConfigUpdate: skipUpdate,
		},
		Logger: c.logger,
		Tracer: c.tracer,
	}

	start := time.Now()
	stats, fetchErr := f.Fetch(ctx, target, isBranch)
	result := &Result{
		Stats:    stats,
		Target:   target,
		IsBranch: isBranch,
		Failed:   f.HasFailures(),
		Duration: time.Since(start),
	}

	c.recordMetrics(result, opts.MetricsFile)

	if fetchErr != nil {
		return result, fetchErr
	}
	return result, nil
}

// Status reports the enlistment's shallow history, refspecs and staged
// packs. It does not contact the remote.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	en := c.enlistment
	st := &Status{
		Root:        en.Root,
		GitDir:      en.GitDir,
		RemoteName:  en.RemoteName,
		RepoURL:     en.RepoURL,
		ObjectsURL:  en.ObjectsURL,
		ShallowPath: en.ShallowPath(),
	}
	if _, err := os.Stat(en.GitDir); err != nil {
		return nil, fmt.Errorf("opening git dir: %w", err)
	}

	state, exists, err := shallow.NewOS(en.GitDir, c.cfg.Fetch.LockTimeout).Read()
	if err != nil {
		return nil, fmt.Errorf("reading shallow state: %w", err)
	}
	st.ShallowExists = exists
	st.ShallowHistory = state.History()
	st.Tip, _ = state.Tip()

	runner := gitcmd.New(en.Root, en.GitDir, c.logger)
	specs, res := runner.GetLocalConfigAll(ctx, "remote."+en.RemoteName+".fetch")
	if res.HasErrors() {
		c.logger.Debug("no fetch refspec configured", "remote", en.RemoteName, "error", res.Errors)
	}
	st.RefSpecs = specs

	stage := staging.At(en.StagingDir())
	st.StagingDir = stage.Path()
	if st.StagedPacks, err = stage.List(); err != nil {
		return nil, err
	}
	if st.StagingBytes, err = stage.Size(); err != nil {
		return nil, err
	}
	return st, nil
}

func (c *Client) recordMetrics(res *Result, override string) {
	path := override
	if path == "" {
		path = c.cfg.Metrics.Textfile
	}
	if path == "" {
		return
	}
	rec := metrics.New()
	rec.Observe(res.Stats, res.Failed, res.Duration)
	if err := rec.WriteTextfile(path); err != nil {
		c.logger.Warn("metrics export failed", "path", path, "error", err)
	}
}

func resolveTarget(opts FetchOptions) (string, bool, error) {
	branch := strings.TrimSpace(opts.Branch)
	commit := strings.TrimSpace(opts.Commit)
	switch {
	case branch != "" && commit != "":
		return "", false, fmt.Errorf("%w: got branch %q and commit %q", ErrTarget, branch, commit)
	case branch != "":
		return branch, true, nil
	case commit != "":
		if !gitobj.ValidSHA(commit) {
			return "", false, fmt.Errorf("%w: %q is not a 40 character commit id", ErrTarget, commit)
		}
		return commit, false, nil
	default:
		return "", false, ErrTarget
	}
}

func orDefault(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}
