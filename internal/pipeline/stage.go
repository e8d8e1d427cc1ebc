// Package pipeline implements the three fetch stages: the Blob Locator,
// the Batch Downloader and the Pack Indexer.
//
// Stages talk through channels, each closed by its single producer. A stage
// is started once and reports an immutable result from Wait, which must only
// be called after Start.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrStageStarted is returned by Start on a stage that already runs.
var ErrStageStarted = errors.New("stage already started")

// lifecycle enforces start-once and wait-after-start.
type lifecycle struct {
	name    string
	started atomic.Bool
	done    chan struct{}
}

func newLifecycle(name string) *lifecycle {
	return &lifecycle{name: name, done: make(chan struct{})}
}

func (l *lifecycle) start() error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", l.name, ErrStageStarted)
	}
	return nil
}

func (l *lifecycle) wait() {
	if !l.started.Load() {
		panic(fmt.Sprintf("pipeline: %s waited on before Start", l.name))
	}
	<-l.done
}

// AvailableBlobs collects the blobs made locally resolvable by the
// downloader (loose objects) and the indexer (packs).
type AvailableBlobs struct {
	mu    sync.Mutex
	blobs map[string]struct{}
}

// NewAvailableBlobs returns an empty set.
func NewAvailableBlobs() *AvailableBlobs {
	return &AvailableBlobs{blobs: make(map[string]struct{})}
}

// Add records shas as available.
func (a *AvailableBlobs) Add(shas ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range shas {
		a.blobs[s] = struct{}{}
	}
}

// Has reports whether sha was recorded.
func (a *AvailableBlobs) Has(sha string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.blobs[sha]
	return ok
}

// Len returns the number of distinct available blobs.
func (a *AvailableBlobs) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blobs)
}
