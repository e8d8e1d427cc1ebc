package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bianoble/prefetch/internal/logging"
)

// EnvPrefix prefixes environment overrides, e.g. PREFETCH_FETCH_CHUNK_SIZE.
const EnvPrefix = "PREFETCH"

// Load reads and validates a prefetch.yaml configuration file.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// LoadOrDefault behaves like Load but tolerates a missing file, returning
// defaults plus environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, required bool) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if required || !isNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &cfg, nil
}

// Save writes a configuration atomically using a temp file and rename.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp config %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp config to %s: %w", path, err)
	}

	return nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Config for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(cfg *Config) []string {
	var errs []string

	if cfg.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d — only version 1 is supported", cfg.Version))
	}

	if strings.TrimSpace(cfg.Enlistment.Root) == "" {
		errs = append(errs, "enlistment: 'root' is required")
	}

	if cfg.Remote.Name == "" {
		errs = append(errs, "remote: 'name' is required")
	} else if strings.ContainsAny(cfg.Remote.Name, " \t/") {
		errs = append(errs, fmt.Sprintf("remote: invalid name '%s'", cfg.Remote.Name))
	}
	if cfg.Remote.URL == "" {
		errs = append(errs, "remote: 'url' is required — add 'url: https://...' to the remote section")
	}

	f := cfg.Fetch
	counts := []struct {
		name string
		n    int
	}{
		{"search_threads", f.SearchThreads},
		{"download_threads", f.DownloadThreads},
		{"index_threads", f.IndexThreads},
		{"max_retries", f.MaxRetries},
	}
	for _, c := range counts {
		if c.n < 0 {
			errs = append(errs, fmt.Sprintf("fetch: '%s' must not be negative", c.name))
		}
	}
	if f.ChunkSize <= 0 {
		errs = append(errs, "fetch: 'chunk_size' must be positive")
	}
	if f.QueueDepth <= 0 {
		errs = append(errs, "fetch: 'queue_depth' must be positive")
	}
	if f.RequestsPerSecond < 0 {
		errs = append(errs, "fetch: 'requests_per_second' must not be negative")
	}
	if f.LockTimeout < 0 {
		errs = append(errs, "fetch: 'lock_timeout' must not be negative")
	}

	if !logging.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Sprintf("logging: invalid level '%s' — must be one of: debug, info, warn, error", cfg.Logging.Level))
	}
	if !logging.ValidFormat(cfg.Logging.Format) {
		errs = append(errs, fmt.Sprintf("logging: invalid format '%s' — must be one of: text, json", cfg.Logging.Format))
	}

	return errs
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Enlistment.Root, &c.Enlistment.GitDir, &c.Metrics.Textfile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding path %s: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
}
