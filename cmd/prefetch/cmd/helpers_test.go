package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHumanSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1, "1 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{2684354560, "2.5 GB"},
	}

	for _, tt := range tests {
		got := humanSize(tt.bytes)
		if got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestShortSHA(t *testing.T) {
	if got := shortSHA("4b825dc642cb6eb9a060e54bf8d69288fbee4904"); got != "4b825dc6" {
		t.Errorf("shortSHA = %q", got)
	}
	if got := shortSHA("abc"); got != "abc" {
		t.Errorf("shortSHA = %q", got)
	}
}

func withGlobals(t *testing.T, path, level, format string) {
	t.Helper()
	oldPath, oldLevel, oldFormat := configPath, logLevel, logFormat
	configPath, logLevel, logFormat = path, level, format
	t.Cleanup(func() {
		configPath, logLevel, logFormat = oldPath, oldLevel, oldFormat
	})
}

func TestLoadConfigAppliesLogFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefetch.yaml")
	if err := os.WriteFile(path, []byte(initTemplate), 0644); err != nil {
		t.Fatal(err)
	}
	withGlobals(t, path, "debug", "json")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoadConfigRejectsBadLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefetch.yaml")
	if err := os.WriteFile(path, []byte(initTemplate), 0644); err != nil {
		t.Fatal(err)
	}
	withGlobals(t, path, "loud", "")

	_, err := loadConfig()
	if err == nil || !strings.Contains(err.Error(), "invalid level") {
		t.Fatalf("expected invalid level error, got %v", err)
	}
}

func TestLoadConfigExplicitMissingFile(t *testing.T) {
	withGlobals(t, filepath.Join(t.TempDir(), "missing.yaml"), "", "")

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestFetchRequiresOneTarget(t *testing.T) {
	old := fetchOpts
	defer func() { fetchOpts = old }()

	fetchOpts.Branch, fetchOpts.Commit = "", ""
	err := fetchCmd.RunE(fetchCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "exactly one of --branch or --commit") {
		t.Fatalf("expected target error, got %v", err)
	}
}
