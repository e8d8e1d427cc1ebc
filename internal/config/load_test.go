package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
version: 1
enlistment:
  root: /work/repo/src
remote:
  name: upstream
  url: https://example.com/repo.git
  objects_url: https://cache.example.com/repo/gvfs
fetch:
  search_threads: 2
  download_threads: 3
  index_threads: 1
  chunk_size: 100
  max_retries: 2
  skip_config_update: true
  lock_timeout: 2s
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/work/repo/src", cfg.Enlistment.Root)
	assert.Equal(t, "upstream", cfg.Remote.Name)
	assert.Equal(t, "https://cache.example.com/repo/gvfs", cfg.Remote.ObjectsURL)
	assert.Equal(t, 2, cfg.Fetch.SearchThreadCount())
	assert.Equal(t, 3, cfg.Fetch.DownloadThreadCount())
	assert.Equal(t, 1, cfg.Fetch.IndexThreadCount())
	assert.Equal(t, 100, cfg.Fetch.ChunkSize)
	assert.Equal(t, DefaultQueueDepth, cfg.Fetch.QueueDepth)
	assert.Equal(t, 2*time.Second, cfg.Fetch.LockTimeout)
	assert.True(t, cfg.Fetch.SkipConfigUpdate)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "version: 1\nremote:\n  url: https://example.com/repo.git\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultRemoteName, cfg.Remote.Name)
	assert.Equal(t, DefaultChunkSize, cfg.Fetch.ChunkSize)
	assert.Equal(t, DefaultMaxRetries, cfg.Fetch.MaxRetries)
	assert.Equal(t, DefaultLockTimeout, cfg.Fetch.LockTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Greater(t, cfg.Fetch.SearchThreadCount(), 0)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "version: 1\nremote:\n  url: https://example.com/repo.git\n")
	t.Setenv("PREFETCH_FETCH_CHUNK_SIZE", "17")
	t.Setenv("PREFETCH_REMOTE_NAME", "mirror")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 17, cfg.Fetch.ChunkSize)
	assert.Equal(t, "mirror", cfg.Remote.Name)
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), FileName)

	_, err := Load(missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), missing)
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), FileName)
	t.Setenv("PREFETCH_REMOTE_URL", "https://example.com/env.git")

	cfg, err := LoadOrDefault(missing)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/env.git", cfg.Remote.URL)
}

func TestLoadValidationErrors(t *testing.T) {
	path := writeConfig(t, `
version: 2
remote:
  name: "bad name"
fetch:
  chunk_size: 0
  download_threads: -1
logging:
  level: loud
`)

	_, err := Load(path)
	require.Error(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	msg := err.Error()
	assert.Contains(t, msg, "unsupported version 2")
	assert.Contains(t, msg, "invalid name 'bad name'")
	assert.Contains(t, msg, "'url' is required")
	assert.Contains(t, msg, "'chunk_size' must be positive")
	assert.Contains(t, msg, "'download_threads' must not be negative")
	assert.Contains(t, msg, "invalid level 'loud'")
}

func TestLoadExpandsHome(t *testing.T) {
	path := writeConfig(t, "version: 1\nenlistment:\n  root: ~/src/repo\nremote:\n  url: https://example.com/repo.git\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotContains(t, cfg.Enlistment.Root, "~")
	assert.True(t, filepath.IsAbs(cfg.Enlistment.Root))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Remote.URL = "https://example.com/repo.git"
	cfg.Fetch.ChunkSize = 250
	cfg.Fetch.LockTimeout = 3 * time.Second

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, Save(path, cfg))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250, loaded.Fetch.ChunkSize)
	assert.Equal(t, 3*time.Second, loaded.Fetch.LockTimeout)
	assert.Equal(t, cfg.Remote.URL, loaded.Remote.URL)
}

func TestDiscoverPrefersProjectFile(t *testing.T) {
	path := writeConfig(t, "version: 1\n")
	assert.Equal(t, path, Discover(path))
}

func TestDiscoverFallsBackToUserConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	xdg.Reload()
	t.Cleanup(xdg.Reload)

	missing := filepath.Join(t.TempDir(), FileName)
	assert.Empty(t, Discover(missing), "no project or user file")

	user, err := UserConfigPath()
	require.NoError(t, err)
	require.NoError(t, Save(user, Default()))
	assert.Equal(t, user, Discover(missing))
}
