// Package diff turns a previous and a target commit into the set of blobs
// needed to materialize a scope.
package diff

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/bianoble/prefetch/internal/logging"
)

// Result is the required-blob set of one diff.
type Result struct {
	// Blobs are distinct blob SHAs, sorted.
	Blobs []string
	// Failed is set when part of a tree could not be read; Blobs is then
	// incomplete.
	Failed bool
	// Full is set when the target was walked from scratch instead of diffed.
	Full bool
}

// Scoper diffs commits held in Objects.
type Scoper struct {
	Objects storer.EncodedObjectStorer
	Scope   Scope
	Logger  *slog.Logger
}

// PerformDiff returns the in-scope blobs added or changed between previous
// and target. With no previous commit, or one that is not available locally,
// every in-scope blob of target is returned.
func (s *Scoper) PerformDiff(ctx context.Context, previous, target string) (Result, error) {
	logger := logging.OrNop(s.Logger)
	m := newMatcher(s.Scope)

	targetTree, err := s.commitTree(target)
	if err != nil {
		return Result{Failed: true}, fmt.Errorf("loading target commit %s: %w", target, err)
	}

	w := &walker{ctx: ctx, objects: s.Objects, match: m, seen: make(map[string]bool), logger: logger}

	var prevTree *object.Tree
	if previous != "" {
		prevTree, err = s.commitTree(previous)
		if err != nil {
			logger.Warn("previous commit not available, walking full tree",
				"previous", previous,
				"error", err,
			)
			prevTree = nil
		}
	}

	res := Result{}
	if prevTree != nil {
		if err := w.diff(prevTree, targetTree); err != nil {
			if ctx.Err() != nil {
				return Result{Failed: true}, ctx.Err()
			}
			logger.Warn("tree diff failed, walking full tree",
				"previous", previous,
				"target", target,
				"error", err,
			)
			w.seen = make(map[string]bool)
			prevTree = nil
		}
	}
	if prevTree == nil {
		res.Full = true
		w.walk(targetTree, "")
	}
	if err := ctx.Err(); err != nil {
		return Result{Failed: true}, err
	}

	res.Blobs = make([]string, 0, len(w.seen))
	for b := range w.seen {
		res.Blobs = append(res.Blobs, b)
	}
	sort.Strings(res.Blobs)
	res.Failed = w.failed

	logger.Debug("diff complete",
		"previous", previous,
		"target", target,
		"full", res.Full,
		"blobs", len(res.Blobs),
		"failed", res.Failed,
	)
	return res, nil
}

func (s *Scoper) commitTree(sha string) (*object.Tree, error) {
	c, err := object.GetCommit(s.Objects, plumbing.NewHash(sha))
	if err != nil {
		return nil, err
	}
	return c.Tree()
}

type walker struct {
	ctx     context.Context
	objects storer.EncodedObjectStorer
	match   *matcher
	seen    map[string]bool
	failed  bool
	logger  *slog.Logger
}

func (w *walker) add(path string, entry object.TreeEntry) {
	if isBlob(entry.Mode) && w.match.matchFile(path) {
		w.seen[entry.Hash.String()] = true
	}
}

// walk collects in-scope blobs of tree, skipping subtrees the scope excludes.
// Unreadable subtrees mark the walk failed and are skipped.
func (w *walker) walk(tree *object.Tree, prefix string) {
	for _, entry := range tree.Entries {
		if w.ctx.Err() != nil {
			return
		}
		path := prefix + entry.Name
		if entry.Mode != filemode.Dir {
			w.add(path, entry)
			continue
		}
		if !w.match.matchDir(path + "/") {
			continue
		}
		sub, err := object.GetTree(w.objects, entry.Hash)
		if err != nil {
			w.failed = true
			w.logger.Error("reading tree", "path", path, "tree", entry.Hash.String(), "error", err)
			continue
		}
		w.walk(sub, path+"/")
	}
}

func (w *walker) diff(from, to *object.Tree) error {
	changes, err := object.DiffTreeContext(w.ctx, from, to)
	if err != nil {
		return err
	}
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return err
		}
		if action == merkletrie.Delete {
			continue
		}
		w.add(ch.To.Name, ch.To.TreeEntry)
	}
	return nil
}

func isBlob(mode filemode.FileMode) bool {
	return mode.IsFile()
}
