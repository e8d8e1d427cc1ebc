package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/bianoble/prefetch/internal/gitcmd"
	"github.com/bianoble/prefetch/internal/logging"
	"github.com/bianoble/prefetch/internal/remote"
)

const refPrefix = "refs/"

func isRefPath(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), refPrefix)
}

// singlePair returns the one branch pair of refs or panics.
func singlePair(branch string, refs *remote.RefSet) remote.RefPair {
	pairs := refs.BranchRefPairs()
	if len(pairs) != 1 {
		panic(&InvariantError{Msg: fmt.Sprintf("expected exactly one ref for branch '%s', got %d", branch, len(pairs))})
	}
	return pairs[0]
}

// UpdateRefs records a completed fetch. For a branch the remote-tracking ref
// is moved to the fetched commit; refs must then hold exactly one branch
// pair. In both modes the commit is appended to the shallow file.
func (f *Fetcher) UpdateRefs(ctx context.Context, branchOrCommit string, isBranch bool, refs *remote.RefSet) error {
	sha := branchOrCommit
	if isBranch {
		pair := singlePair(branchOrCommit, refs)
		if err := f.updateRef(ctx, pair.Name, pair.SHA); err != nil {
			return err
		}
		sha = pair.SHA
	}

	if err := f.Shallow.Append(ctx, sha); err != nil {
		return &FetchError{Op: "update shallow state", Target: sha, Err: err}
	}
	logging.OrNop(f.Logger).Info("recorded shallow tip", "commit", sha)
	return nil
}

// updateRef points ref at target. A target that is itself a ref path is
// written as a symbolic ref so the local ref keeps tracking it.
func (f *Fetcher) updateRef(ctx context.Context, ref, target string) error {
	var res gitcmd.Result
	if isRefPath(target) {
		res = f.Runner.UpdateBranchSymbolicRef(ctx, ref, target)
	} else {
		res = f.Runner.UpdateBranchSha(ctx, ref, target)
	}
	if res.HasErrors() {
		return &FetchError{Op: "update ref", Target: ref, Err: fmt.Errorf("%w: %s", ErrRefUpdate, res.Errors)}
	}
	return nil
}

// UpdateRefSpec replaces every fetch refspec of the remote with the single
// branch that was fetched, so later plain fetches only touch that branch.
// A failure is recorded and reported as false.
func (f *Fetcher) UpdateRefSpec(ctx context.Context, branchOrCommit string, refs *remote.RefSet) bool {
	localRef := branchOrCommit
	if !isRefPath(localRef) {
		localRef = refPrefix + "heads/" + branchOrCommit
	}
	remoteRef := singlePair(branchOrCommit, refs).Name

	key := "remote." + f.RemoteName + ".fetch"
	value := "+" + localRef + ":" + remoteRef
	res := f.Runner.SetLocalConfig(ctx, key, value, true)
	if res.HasErrors() {
		f.markFailed()
		logging.OrNop(f.Logger).Error("updating fetch refspec",
			"key", key,
			"value", value,
			"error", res.Errors,
		)
		return false
	}
	return true
}
