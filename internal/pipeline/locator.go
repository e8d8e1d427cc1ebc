package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/bianoble/prefetch/internal/logging"
)

// Existence answers whether an object is already local.
type Existence interface {
	ObjectExists(sha string) bool
}

// LocatorResult is the outcome of the Blob Locator.
type LocatorResult struct {
	AlreadyLocal int
	Missing      int
	Failed       bool
}

// BlobLocator splits the required blobs into already-local ones and missing
// ones, forwarding the latter to the downloader.
type BlobLocator struct {
	threads  int
	required <-chan string
	missing  chan string
	store    Existence
	tracer   trace.Tracer
	logger   *slog.Logger

	lc     *lifecycle
	result LocatorResult
}

// NewBlobLocator returns a locator reading required with threads workers.
// The missing queue holds up to queueDepth blobs.
func NewBlobLocator(threads int, required <-chan string, queueDepth int, store Existence, tracer trace.Tracer, logger *slog.Logger) *BlobLocator {
	return &BlobLocator{
		threads:  max(threads, 1),
		required: required,
		missing:  make(chan string, max(queueDepth, 1)),
		store:    store,
		tracer:   orNoopTracer(tracer),
		logger:   logging.OrNop(logger).With("stage", "locate"),
		lc:       newLifecycle("blob locator"),
	}
}

// Missing is the download request queue. It is closed when the locator is done.
func (l *BlobLocator) Missing() <-chan string {
	return l.missing
}

// Start launches the workers.
func (l *BlobLocator) Start(ctx context.Context) error {
	if err := l.lc.start(); err != nil {
		return err
	}
	go l.run(ctx)
	return nil
}

// Wait blocks until every required blob has been classified.
func (l *BlobLocator) Wait() LocatorResult {
	l.lc.wait()
	return l.result
}

func (l *BlobLocator) run(ctx context.Context) {
	ctx, span := l.tracer.Start(ctx, "pipeline.locate")

	var local, missing atomic.Int64
	var failed atomic.Bool

	var g errgroup.Group
	g.SetLimit(l.threads)
	for sha := range l.required {
		if ctx.Err() != nil {
			failed.Store(true)
			continue
		}
		g.Go(func() error {
			if l.store.ObjectExists(sha) {
				local.Add(1)
				return nil
			}
			select {
			case l.missing <- sha:
				missing.Add(1)
			case <-ctx.Done():
				failed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	l.result = LocatorResult{
		AlreadyLocal: int(local.Load()),
		Missing:      int(missing.Load()),
		Failed:       failed.Load(),
	}
	l.logger.Debug("stage complete",
		"already_local", l.result.AlreadyLocal,
		"missing", l.result.Missing,
		"failed", l.result.Failed,
	)

	close(l.missing)
	span.SetAttributes(
		attribute.Int("blobs.local", l.result.AlreadyLocal),
		attribute.Int("blobs.missing", l.result.Missing),
	)
	span.End()
	close(l.lc.done)
}

func orNoopTracer(t trace.Tracer) trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return t
}
