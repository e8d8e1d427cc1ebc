package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bianoble/prefetch/internal/config"
	"github.com/bianoble/prefetch/internal/logging"
	"github.com/bianoble/prefetch/pkg/prefetch"
)

// loadConfig reads the discovered config file, falling back to defaults
// plus environment overrides, and applies the logging flags.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.Discover(config.FileName)
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, &config.ValidationError{Errors: errs}
	}
	return cfg, nil
}

// newLogger writes structured logs to stderr.
func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
}

// newClient builds a library client from the loaded config.
func newClient() (*prefetch.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return prefetch.New(prefetch.Options{
		Config: cfg,
		Logger: newLogger(cfg),
	})
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Printf("  "+format+"\n", args...)
	}
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func humanSize(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}
