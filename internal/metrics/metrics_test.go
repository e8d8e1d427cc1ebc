package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/prefetch/internal/fetch"
)

func TestObserve(t *testing.T) {
	r := New()
	r.Observe(fetch.Stats{Matched: 10, Downloaded: 4, AlreadyLocal: 6, PacksIndexed: 2}, false, 3*time.Second)
	r.Observe(fetch.Stats{Matched: 1, Downloaded: 1}, true, time.Second)

	assert.Equal(t, 11.0, promtestutil.ToFloat64(r.matched))
	assert.Equal(t, 5.0, promtestutil.ToFloat64(r.downloaded))
	assert.Equal(t, 6.0, promtestutil.ToFloat64(r.alreadyLocal))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(r.packsIndexed))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(r.failures))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(r.duration))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.Observe(fetch.Stats{Matched: 3, Downloaded: 3, PacksIndexed: 1}, false, 2*time.Second)

	path := filepath.Join(t.TempDir(), "prefetch.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "prefetch_blobs_matched_total 3")
	assert.Contains(t, text, "prefetch_blobs_downloaded_total 3")
	assert.Contains(t, text, "prefetch_packs_indexed_total 1")
	assert.Contains(t, text, "prefetch_fetch_failures_total 0")
	assert.Contains(t, text, "prefetch_fetch_duration_seconds 2")
}

func TestWriteTextfileBadPath(t *testing.T) {
	err := New().WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}
