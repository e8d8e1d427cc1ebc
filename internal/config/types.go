package config

import (
	"runtime"
	"time"
)

// Config represents the prefetch.yaml configuration file.
type Config struct {
	Version    int              `yaml:"version"`
	Enlistment EnlistmentConfig `yaml:"enlistment"`
	Remote     RemoteConfig     `yaml:"remote"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// EnlistmentConfig locates the virtualized working directory and its git dir.
type EnlistmentConfig struct {
	// Root is the working-directory root that scope entries are resolved against.
	Root string `yaml:"root"`
	// GitDir defaults to <root>/.git.
	GitDir string `yaml:"git_dir,omitempty"`
}

// RemoteConfig describes the remote object store.
type RemoteConfig struct {
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`
	ObjectsURL string `yaml:"objects_url,omitempty"` // defaults to <url>/gvfs
}

// FetchConfig tunes the fetch pipeline. Zero thread counts mean one worker per CPU.
type FetchConfig struct {
	SearchThreads     int           `yaml:"search_threads"`
	DownloadThreads   int           `yaml:"download_threads"`
	IndexThreads      int           `yaml:"index_threads"`
	ChunkSize         int           `yaml:"chunk_size"`
	QueueDepth        int           `yaml:"queue_depth"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	SkipConfigUpdate  bool          `yaml:"skip_config_update"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// SearchThreadCount returns the effective blob search worker count.
func (f FetchConfig) SearchThreadCount() int {
	return orCPUs(f.SearchThreads)
}

// DownloadThreadCount returns the effective download worker count.
func (f FetchConfig) DownloadThreadCount() int {
	return orCPUs(f.DownloadThreads)
}

// IndexThreadCount returns the effective pack indexing worker count.
func (f FetchConfig) IndexThreadCount() int {
	return orCPUs(f.IndexThreads)
}

func orCPUs(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}
