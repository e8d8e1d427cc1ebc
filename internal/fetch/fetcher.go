// Package fetch is the fetch orchestrator. It resolves the target commit,
// makes it local, diffs it against the previous shallow tip within the
// requested scope, drives the locate/download/index pipeline and, only when
// nothing failed, records the new tip in refs, the shallow file and the
// fetch refspec.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/bianoble/prefetch/internal/logging"
	"github.com/bianoble/prefetch/internal/pipeline"
	"github.com/bianoble/prefetch/internal/remote"
)

// Options tunes one Fetcher.
type Options struct {
	SearchThreads   int
	DownloadThreads int
	IndexThreads    int
	ChunkSize       int
	QueueDepth      int
	// SkipConfigUpdate leaves refs, the shallow file and the refspec alone.
	SkipConfigUpdate bool
}

// Stats summarizes a fetch. Counts are read after the pipeline drained.
type Stats struct {
	// Matched is the number of in-scope blobs: AlreadyLocal plus Downloaded.
	Matched      int
	Downloaded   int
	AlreadyLocal int
	PacksIndexed int
	// Available counts blobs made resolvable by this fetch.
	Available int
}

// Fetcher runs scoped shallow fetches for one enlistment.
// A Fetcher is used for a single Fetch call; its failure flag is never reset.
type Fetcher struct {
	RemoteName string
	Remote     RemoteClient
	Store      ObjectStore
	Diff       DiffScoper
	Runner     CommandRunner
	Shallow    ShallowState
	Staging    Staging
	Options    Options
	Logger     *slog.Logger
	Tracer     trace.Tracer

	failed atomic.Bool
}

// HasFailures reports whether any step of the fetch failed.
func (f *Fetcher) HasFailures() bool {
	return f.failed.Load()
}

func (f *Fetcher) markFailed() {
	f.failed.Store(true)
}

func (f *Fetcher) tracer() trace.Tracer {
	if f.Tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return f.Tracer
}

// Fetch downloads the blobs of branchOrCommit that the scope needs.
//
// Fatal problems return a *FetchError. Stage failures are soft: the pipeline
// runs to completion, stats are returned with a nil error and HasFailures
// reports true, and refs and shallow state are left untouched.
//
// The Pack Indexer is started only after the Blob Locator has finished, so
// indexing never competes with the blob search, while it still overlaps the
// tail of the downloads.
func (f *Fetcher) Fetch(ctx context.Context, branchOrCommit string, isBranch bool) (Stats, error) {
	logger := logging.OrNop(f.Logger).With(
		"fetch_id", uuid.NewString(),
		"target", branchOrCommit,
		"is_branch", isBranch,
	)
	ctx, span := f.tracer().Start(ctx, "fetch", trace.WithAttributes(
		attribute.String("target", branchOrCommit),
		attribute.Bool("is_branch", isBranch),
	))
	defer span.End()

	if strings.TrimSpace(branchOrCommit) == "" {
		return Stats{}, f.fatal(&FetchError{Op: "fetch", Err: ErrBlankTarget})
	}

	state, exists, err := f.Shallow.Read()
	if err != nil {
		return Stats{}, f.fatal(&FetchError{Op: "read shallow state", Target: branchOrCommit, Err: fmt.Errorf("%w: %v", ErrShallowState, err)})
	}
	if exists && state.IsBlank() {
		f.markFailed()
		logger.Error("shallow file exists but lists no commit, refusing to fetch")
		return Stats{}, nil
	}
	previous, _ := state.Tip()

	var refs *remote.RefSet
	commit := branchOrCommit
	if isBranch {
		refs, err = f.Remote.QueryRefs(ctx, branchOrCommit)
		if err != nil {
			return Stats{}, f.fatal(&FetchError{Op: "query refs", Target: branchOrCommit, Err: fmt.Errorf("%w: %v", ErrRefQueryEmpty, err)})
		}
		if refs == nil {
			return Stats{}, f.fatal(&FetchError{Op: "query refs", Target: branchOrCommit, Err: ErrRefQueryEmpty})
		}
		tip, ok := refs.TipCommit(branchOrCommit)
		if refs.Len() == 0 || !ok {
			return Stats{}, f.fatal(&FetchError{Op: "resolve branch", Target: branchOrCommit, Err: ErrBranchNotFound})
		}
		commit = tip
		logger = logger.With("commit", commit)
		logger.Info("resolved branch")
	}

	if err := f.EnsureCommitLocal(ctx, commit); err != nil {
		return Stats{}, f.fatal(err)
	}

	res, err := f.Diff.PerformDiff(ctx, previous, commit)
	if err != nil {
		return Stats{}, f.fatal(&FetchError{Op: "diff", Target: commit, Err: fmt.Errorf("%w: %v", ErrDiffFailed, err)})
	}
	if res.Failed {
		f.markFailed()
	}
	logger.Info("diff complete",
		"previous", previous,
		"full_walk", res.Full,
		"required_blobs", len(res.Blobs),
	)

	stats := f.runPipeline(ctx, res.Blobs, logger)
	span.SetAttributes(
		attribute.Int("blobs.matched", stats.Matched),
		attribute.Int("blobs.downloaded", stats.Downloaded),
	)
	logger.Info("pipeline complete",
		"matched", stats.Matched,
		"downloaded", stats.Downloaded,
		"already_local", stats.AlreadyLocal,
		"packs_indexed", stats.PacksIndexed,
		"failed", f.HasFailures(),
	)

	if f.Options.SkipConfigUpdate || f.HasFailures() {
		if f.HasFailures() {
			logger.Warn("fetch had failures, refs and shallow state not updated")
		}
		return stats, nil
	}

	if err := f.UpdateRefs(ctx, branchOrCommit, isBranch, refs); err != nil {
		return stats, f.fatal(err)
	}
	if isBranch {
		f.UpdateRefSpec(ctx, branchOrCommit, refs)
	}
	return stats, nil
}

func (f *Fetcher) fatal(err error) error {
	f.markFailed()
	return err
}

// EnsureCommitLocal downloads sha at depth 1 unless it is already local.
func (f *Fetcher) EnsureCommitLocal(ctx context.Context, sha string) error {
	if f.Store.ObjectExists(sha) {
		return nil
	}
	if err := f.Remote.EnsureCommitIsLocal(ctx, sha, pipeline.ShallowDepth); err != nil {
		return &FetchError{
			Op:       "download commit",
			Target:   sha,
			Endpoint: f.Remote.ObjectsURL(),
			Err:      fmt.Errorf("%w: %v", ErrCommitUnavailable, err),
		}
	}
	return nil
}

// runPipeline feeds blobs through the three stages and ORs their failures
// into the fetch's flag.
func (f *Fetcher) runPipeline(ctx context.Context, blobs []string, logger *slog.Logger) Stats {
	opts := f.Options
	queueDepth := max(opts.QueueDepth, 1)
	chunkSize := max(opts.ChunkSize, 1)
	tracer := f.tracer()

	required := make(chan string, queueDepth)
	go func() {
		defer close(required)
		for _, b := range blobs {
			select {
			case required <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	available := pipeline.NewAvailableBlobs()
	locator := pipeline.NewBlobLocator(opts.SearchThreads, required, queueDepth, f.Store, tracer, logger)
	downloader := pipeline.NewBatchDownloader(locator.Missing(), pipeline.DownloaderConfig{
		Threads:   opts.DownloadThreads,
		ChunkSize: chunkSize,
		PackQueue: pipeline.PackQueueSize(len(blobs), chunkSize),
		Available: available,
		Remote:    f.Remote,
		Store:     f.Store,
		Staging:   f.Staging,
		Tracer:    tracer,
		Logger:    logger,
	})
	indexer := pipeline.NewPackIndexer(opts.IndexThreads, downloader.Packs(), available, f.Store, f.Staging, tracer, logger)

	f.mustStart(ctx, locator.Start)
	f.mustStart(ctx, downloader.Start)

	loc := locator.Wait()
	f.mustStart(ctx, indexer.Start)

	dl := downloader.Wait()
	idx := indexer.Wait()

	if loc.Failed || dl.Failed || idx.Failed || ctx.Err() != nil {
		f.markFailed()
	}

	return Stats{
		Matched:      loc.AlreadyLocal + loc.Missing,
		Downloaded:   loc.Missing,
		AlreadyLocal: loc.AlreadyLocal,
		PacksIndexed: idx.Packs,
		Available:    available.Len(),
	}
}

func (f *Fetcher) mustStart(ctx context.Context, start func(context.Context) error) {
	if err := start(ctx); err != nil {
		panic(&InvariantError{Msg: err.Error()})
	}
}
