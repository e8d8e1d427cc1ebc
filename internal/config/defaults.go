package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for a fresh configuration.
const (
	DefaultRemoteName  = "origin"
	DefaultChunkSize   = 4000
	DefaultQueueDepth  = 4096
	DefaultMaxRetries  = 5
	DefaultLockTimeout = 5 * time.Second
)

// Default returns a configuration populated with default values.
func Default() *Config {
	return &Config{
		Version: 1,
		Enlistment: EnlistmentConfig{
			Root: ".",
		},
		Remote: RemoteConfig{
			Name: DefaultRemoteName,
		},
		Fetch: FetchConfig{
			ChunkSize:   DefaultChunkSize,
			QueueDepth:  DefaultQueueDepth,
			MaxRetries:  DefaultMaxRetries,
			LockTimeout: DefaultLockTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers default values with v. Every key is registered so
// that PREFETCH_* environment overrides are picked up on Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("version", d.Version)

	v.SetDefault("enlistment.root", d.Enlistment.Root)
	v.SetDefault("enlistment.git_dir", d.Enlistment.GitDir)

	v.SetDefault("remote.name", d.Remote.Name)
	v.SetDefault("remote.url", d.Remote.URL)
	v.SetDefault("remote.objects_url", d.Remote.ObjectsURL)

	v.SetDefault("fetch.search_threads", d.Fetch.SearchThreads)
	v.SetDefault("fetch.download_threads", d.Fetch.DownloadThreads)
	v.SetDefault("fetch.index_threads", d.Fetch.IndexThreads)
	v.SetDefault("fetch.chunk_size", d.Fetch.ChunkSize)
	v.SetDefault("fetch.queue_depth", d.Fetch.QueueDepth)
	v.SetDefault("fetch.max_retries", d.Fetch.MaxRetries)
	v.SetDefault("fetch.requests_per_second", d.Fetch.RequestsPerSecond)
	v.SetDefault("fetch.skip_config_update", d.Fetch.SkipConfigUpdate)
	v.SetDefault("fetch.lock_timeout", d.Fetch.LockTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}
