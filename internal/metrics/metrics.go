// Package metrics records fetch counters and exports them in the Prometheus
// textfile format for node_exporter style collection.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bianoble/prefetch/internal/fetch"
)

const namespace = "prefetch"

// Recorder holds the fetch metrics in its own registry.
type Recorder struct {
	Registry *prometheus.Registry

	matched      prometheus.Counter
	downloaded   prometheus.Counter
	alreadyLocal prometheus.Counter
	packsIndexed prometheus.Counter
	failures     prometheus.Counter
	duration     prometheus.Gauge
}

// New returns a Recorder with all metrics registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		Registry: reg,
		matched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blobs_matched_total",
			Help:      "In-scope blobs found by the diff.",
		}),
		downloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blobs_downloaded_total",
			Help:      "Blobs requested from the remote.",
		}),
		alreadyLocal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blobs_already_local_total",
			Help:      "In-scope blobs that were already in the local object store.",
		}),
		packsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packs_indexed_total",
			Help:      "Downloaded packs indexed into the object store.",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Fetches that finished with failures.",
		}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Wall-clock duration of the last fetch.",
		}),
	}
}

// Observe records the outcome of one fetch.
func (r *Recorder) Observe(stats fetch.Stats, failed bool, d time.Duration) {
	r.matched.Add(float64(stats.Matched))
	r.downloaded.Add(float64(stats.Downloaded))
	r.alreadyLocal.Add(float64(stats.AlreadyLocal))
	r.packsIndexed.Add(float64(stats.PacksIndexed))
	if failed {
		r.failures.Inc()
	}
	r.duration.Set(d.Seconds())
}

// WriteTextfile writes every metric to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.Registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}
