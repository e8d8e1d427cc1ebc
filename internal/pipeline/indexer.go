package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bianoble/prefetch/internal/logging"
)

// PackIndexerStore applies packs to the local object store.
type PackIndexerStore interface {
	IndexPack(ctx context.Context, r io.Reader) error
}

// StagedPacks reads and discards staged pack files.
type StagedPacks interface {
	Open(path string) (*os.File, error)
	Remove(path string) error
}

// IndexResult is the outcome of the Pack Indexer.
type IndexResult struct {
	Packs  int
	Failed bool
}

// PackIndexer indexes staged packs into the object store. Indexed packs are
// removed from staging; packs that fail are kept for inspection.
type PackIndexer struct {
	threads   int
	packs     <-chan Pack
	available *AvailableBlobs
	store     PackIndexerStore
	staging   StagedPacks
	tracer    trace.Tracer
	logger    *slog.Logger

	lc     *lifecycle
	result IndexResult
}

// NewPackIndexer returns an indexer reading packs with threads workers.
func NewPackIndexer(threads int, packs <-chan Pack, available *AvailableBlobs, store PackIndexerStore, staging StagedPacks, tracer trace.Tracer, logger *slog.Logger) *PackIndexer {
	if available == nil {
		available = NewAvailableBlobs()
	}
	return &PackIndexer{
		threads:   max(threads, 1),
		packs:     packs,
		available: available,
		store:     store,
		staging:   staging,
		tracer:    orNoopTracer(tracer),
		logger:    logging.OrNop(logger).With("stage", "index"),
		lc:        newLifecycle("pack indexer"),
	}
}

// Start launches the workers.
func (x *PackIndexer) Start(ctx context.Context) error {
	if err := x.lc.start(); err != nil {
		return err
	}
	go x.run(ctx)
	return nil
}

// Wait blocks until the pack queue is closed and drained.
func (x *PackIndexer) Wait() IndexResult {
	x.lc.wait()
	return x.result
}

func (x *PackIndexer) run(ctx context.Context) {
	ctx, span := x.tracer.Start(ctx, "pipeline.index")

	var indexed atomic.Int64
	var failed atomic.Bool

	var g errgroup.Group
	g.SetLimit(x.threads)
	for pack := range x.packs {
		g.Go(func() error {
			if err := x.index(ctx, pack); err != nil {
				failed.Store(true)
				x.logger.Error("indexing failed, pack kept",
					"pack", pack.Path,
					"error", err,
				)
				return nil
			}
			indexed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	x.result = IndexResult{Packs: int(indexed.Load()), Failed: failed.Load()}
	x.logger.Debug("stage complete", "packs", x.result.Packs, "failed", x.result.Failed)

	span.SetAttributes(attribute.Int("packs", x.result.Packs))
	span.End()
	close(x.lc.done)
}

func (x *PackIndexer) index(ctx context.Context, pack Pack) error {
	f, err := x.staging.Open(pack.Path)
	if err != nil {
		return err
	}
	err = x.store.IndexPack(ctx, f)
	_ = f.Close()
	if err != nil {
		return err
	}

	x.available.Add(pack.Blobs...)
	if err := x.staging.Remove(pack.Path); err != nil {
		x.logger.Warn("removing indexed pack", "pack", pack.Path, "error", err)
	}
	return nil
}
