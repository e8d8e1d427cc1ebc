package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bianoble/prefetch/internal/logging"
	"github.com/bianoble/prefetch/internal/remote"
)

// ShallowDepth is the commit depth of every object request.
const ShallowDepth = 1

// ObjectDownloader retrieves objects from the remote.
type ObjectDownloader interface {
	DownloadObjects(ctx context.Context, shas []string, depth int) (*remote.ObjectResponse, error)
}

// LooseWriter stores single loose objects.
type LooseWriter interface {
	WriteLooseObject(r io.Reader) (string, error)
}

// PackStager persists a downloaded pack until it is indexed.
type PackStager interface {
	Write(r io.Reader) (string, error)
}

// Pack is a staged pack file and the blobs it was requested for.
type Pack struct {
	Path  string
	Blobs []string
}

// DownloadResult is the outcome of the Batch Downloader.
type DownloadResult struct {
	Requests     int
	Packs        int
	LooseObjects int
	Failed       bool
}

// BatchDownloader groups missing blobs into chunks and downloads each chunk
// with one request. Packs are staged and handed to the indexer; single loose
// objects are written straight to the store.
type BatchDownloader struct {
	threads   int
	chunkSize int
	missing   <-chan string
	packs     chan Pack
	available *AvailableBlobs
	remote    ObjectDownloader
	store     LooseWriter
	staging   PackStager
	tracer    trace.Tracer
	logger    *slog.Logger

	lc     *lifecycle
	result DownloadResult
}

// DownloaderConfig wires a BatchDownloader.
type DownloaderConfig struct {
	Threads   int
	ChunkSize int
	// PackQueue is the pack queue capacity. It must hold every pack the
	// downloader can produce before the indexer starts.
	PackQueue int
	Available *AvailableBlobs
	Remote    ObjectDownloader
	Store     LooseWriter
	Staging   PackStager
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// NewBatchDownloader returns a downloader reading missing.
func NewBatchDownloader(missing <-chan string, cfg DownloaderConfig) *BatchDownloader {
	available := cfg.Available
	if available == nil {
		available = NewAvailableBlobs()
	}
	return &BatchDownloader{
		threads:   max(cfg.Threads, 1),
		chunkSize: max(cfg.ChunkSize, 1),
		missing:   missing,
		packs:     make(chan Pack, max(cfg.PackQueue, 1)),
		available: available,
		remote:    cfg.Remote,
		store:     cfg.Store,
		staging:   cfg.Staging,
		tracer:    orNoopTracer(cfg.Tracer),
		logger:    logging.OrNop(cfg.Logger).With("stage", "download"),
		lc:        newLifecycle("batch downloader"),
	}
}

// PackQueueSize returns a pack queue capacity that holds every pack produced
// when n blobs are downloaded chunkSize at a time.
func PackQueueSize(n, chunkSize int) int {
	return n/max(chunkSize, 1) + 1
}

// Packs is the staged pack queue. It is closed when the downloader is done.
func (d *BatchDownloader) Packs() <-chan Pack {
	return d.packs
}

// Start launches the workers.
func (d *BatchDownloader) Start(ctx context.Context) error {
	if err := d.lc.start(); err != nil {
		return err
	}
	go d.run(ctx)
	return nil
}

// Wait blocks until every missing blob has been requested.
func (d *BatchDownloader) Wait() DownloadResult {
	d.lc.wait()
	return d.result
}

func (d *BatchDownloader) run(ctx context.Context) {
	ctx, span := d.tracer.Start(ctx, "pipeline.download")

	var requests, packs, loose atomic.Int64
	var failed atomic.Bool

	var g errgroup.Group
	g.SetLimit(d.threads)
	submit := func(chunk []string) {
		if ctx.Err() != nil {
			failed.Store(true)
			return
		}
		g.Go(func() error {
			requests.Add(1)
			isPack, err := d.download(ctx, chunk)
			switch {
			case err != nil:
				failed.Store(true)
				d.logger.Error("download failed", "blobs", len(chunk), "error", err)
			case isPack:
				packs.Add(1)
			default:
				loose.Add(1)
			}
			return nil
		})
	}

	chunk := make([]string, 0, d.chunkSize)
	for sha := range d.missing {
		chunk = append(chunk, sha)
		if len(chunk) == d.chunkSize {
			submit(chunk)
			chunk = make([]string, 0, d.chunkSize)
		}
	}
	if len(chunk) > 0 {
		submit(chunk)
	}
	_ = g.Wait()

	d.result = DownloadResult{
		Requests:     int(requests.Load()),
		Packs:        int(packs.Load()),
		LooseObjects: int(loose.Load()),
		Failed:       failed.Load(),
	}
	d.logger.Debug("stage complete",
		"requests", d.result.Requests,
		"packs", d.result.Packs,
		"loose", d.result.LooseObjects,
		"failed", d.result.Failed,
	)

	close(d.packs)
	span.SetAttributes(
		attribute.Int("requests", d.result.Requests),
		attribute.Int("packs", d.result.Packs),
	)
	span.End()
	close(d.lc.done)
}

// download fetches one chunk. It reports whether the response was a pack.
func (d *BatchDownloader) download(ctx context.Context, chunk []string) (bool, error) {
	resp, err := d.remote.DownloadObjects(ctx, chunk, ShallowDepth)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.IsLoose() {
		sha, err := d.store.WriteLooseObject(resp.Body)
		if err != nil {
			return false, err
		}
		d.available.Add(sha)
		return false, nil
	}

	path, err := d.staging.Write(resp.Body)
	if err != nil {
		return true, err
	}
	select {
	case d.packs <- Pack{Path: path, Blobs: chunk}:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}
