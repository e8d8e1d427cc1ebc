// Package enlistment describes the on-disk layout of a virtualized working
// directory: its root, git dir, remote and the derived endpoints.
package enlistment

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bianoble/prefetch/internal/config"
)

// Enlistment is a working directory backed by a shallow git repository.
type Enlistment struct {
	Root       string
	GitDir     string
	RemoteName string
	RepoURL    string
	ObjectsURL string
}

// FromConfig builds an Enlistment, filling the git dir and objects endpoint
// defaults. Relative roots are resolved against the current directory.
func FromConfig(cfg *config.Config) (*Enlistment, error) {
	root, err := filepath.Abs(cfg.Enlistment.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving enlistment root %s: %w", cfg.Enlistment.Root, err)
	}

	gitDir := cfg.Enlistment.GitDir
	if gitDir == "" {
		gitDir = filepath.Join(root, ".git")
	} else if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(root, gitDir)
	}

	objects := cfg.Remote.ObjectsURL
	if objects == "" {
		objects = DefaultObjectsURL(cfg.Remote.URL)
	}

	return &Enlistment{
		Root:       root,
		GitDir:     gitDir,
		RemoteName: cfg.Remote.Name,
		RepoURL:    cfg.Remote.URL,
		ObjectsURL: strings.TrimRight(objects, "/"),
	}, nil
}

// DefaultObjectsURL derives the objects endpoint from the repository URL.
func DefaultObjectsURL(repoURL string) string {
	if repoURL == "" {
		return ""
	}
	return strings.TrimRight(repoURL, "/") + "/gvfs"
}

// ShallowPath is the shallow-state file inside the git dir.
func (e *Enlistment) ShallowPath() string {
	return filepath.Join(e.GitDir, "shallow")
}

// StagingDir holds downloaded packs until they are indexed.
func (e *Enlistment) StagingDir() string {
	return filepath.Join(e.GitDir, "prefetch", "staging")
}
