// Package gitcmd runs the git CLI for the few mutations that go through git
// itself: local config, symbolic refs and direct ref updates.
package gitcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/bianoble/prefetch/internal/logging"
)

// MinVersion is the oldest git that supports every command used here.
const MinVersion = "2.9.0"

// Result is the outcome of one git invocation.
type Result struct {
	Output   string
	Errors   string
	ExitCode int
}

// HasErrors reports whether the command failed.
func (r Result) HasErrors() bool {
	return r.ExitCode != 0
}

// Runner executes git commands against one repository.
type Runner struct {
	// Dir is the working directory passed to git -C.
	Dir string
	// GitDir, when set, is passed as --git-dir so commands act on that
	// repository wherever Dir is.
	GitDir string
	// Env is appended to the process environment.
	Env    []string
	Logger *slog.Logger
}

// New returns a Runner working in dir against the repository at gitDir.
// An empty gitDir lets git discover the repository from dir.
func New(dir, gitDir string, logger *slog.Logger) *Runner {
	return &Runner{Dir: dir, GitDir: gitDir, Logger: logger}
}

// SetLocalConfig writes key=value to the repository's local config.
// With replaceAll every existing value of key is replaced by value.
func (r *Runner) SetLocalConfig(ctx context.Context, key, value string, replaceAll bool) Result {
	args := []string{"config", "--local"}
	if replaceAll {
		args = append(args, "--replace-all")
	}
	return r.Run(ctx, append(args, key, value)...)
}

// GetLocalConfigAll returns every value of key in the local config.
func (r *Runner) GetLocalConfigAll(ctx context.Context, key string) ([]string, Result) {
	res := r.Run(ctx, "config", "--local", "--get-all", key)
	if res.HasErrors() {
		return nil, res
	}
	var values []string
	for _, line := range strings.Split(res.Output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			values = append(values, line)
		}
	}
	return values, res
}

// UpdateBranchSymbolicRef points ref at another ref.
func (r *Runner) UpdateBranchSymbolicRef(ctx context.Context, ref, target string) Result {
	return r.Run(ctx, "symbolic-ref", ref, target)
}

// UpdateBranchSha points ref directly at sha.
func (r *Runner) UpdateBranchSha(ctx context.Context, ref, sha string) Result {
	return r.Run(ctx, "update-ref", "--no-deref", ref, sha)
}

// Run executes git with args and captures its output.
func (r *Runner) Run(ctx context.Context, args ...string) Result {
	var full []string
	if r.Dir != "" {
		full = append(full, "-C", r.Dir)
	}
	if r.GitDir != "" {
		full = append(full, "--git-dir="+r.GitDir)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Env = append(append(os.Environ(), "GIT_TERMINAL_PROMPT=0"), r.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Output: strings.TrimSpace(stdout.String()),
		Errors: strings.TrimSpace(stderr.String()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			if res.Errors == "" {
				res.Errors = err.Error()
			}
		}
	}

	logging.OrNop(r.Logger).Debug("git command",
		"args", strings.Join(args, " "),
		"exit_code", res.ExitCode,
	)
	return res
}

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// Version returns the installed git version.
func (r *Runner) Version(ctx context.Context) (*version.Version, error) {
	res := r.Run(ctx, "--version")
	if res.HasErrors() {
		return nil, fmt.Errorf("running git --version: %s", res.Errors)
	}
	return ParseVersion(res.Output)
}

// CheckVersion fails when the installed git is older than MinVersion.
func (r *Runner) CheckVersion(ctx context.Context) error {
	v, err := r.Version(ctx)
	if err != nil {
		return err
	}
	minimum := version.Must(version.NewVersion(MinVersion))
	if v.LessThan(minimum) {
		return fmt.Errorf("git %s is too old, %s or newer is required", v, MinVersion)
	}
	return nil
}

// ParseVersion extracts the version from `git --version` output such as
// "git version 2.45.1.windows.1".
func ParseVersion(output string) (*version.Version, error) {
	raw := versionPattern.FindString(output)
	if raw == "" {
		return nil, fmt.Errorf("unrecognized git version output %q", output)
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing git version %q: %w", raw, err)
	}
	return v, nil
}
