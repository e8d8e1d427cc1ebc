package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Content types returned by the objects endpoint.
const (
	PackContentType  = "application/x-git-packfile"
	LooseContentType = "application/x-git-loose-object"
)

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RefLister lists the refs a remote advertises. *git.Remote implements it.
type RefLister interface {
	ListContext(ctx context.Context, o *git.ListOptions) ([]*plumbing.Reference, error)
}

// ObjectWriter applies downloaded objects to the local store.
type ObjectWriter interface {
	IndexPack(ctx context.Context, r io.Reader) error
	WriteLooseObject(r io.Reader) (string, error)
}

// RefPair maps a remote-tracking ref to the commit it should point at.
type RefPair struct {
	Name string // e.g. refs/remotes/origin/main
	SHA  string
}

// RefSet is the subset of a remote's ref advertisement a fetch asked for.
type RefSet struct {
	remoteName string
	branches   map[string]string // refs/heads/<name> → sha
}

// NewRefSet keeps the branch refs among refs. Symbolic refs are skipped.
func NewRefSet(remoteName string, refs []*plumbing.Reference) *RefSet {
	rs := &RefSet{remoteName: remoteName, branches: make(map[string]string)}
	for _, ref := range refs {
		if ref == nil || ref.Type() != plumbing.HashReference || !ref.Name().IsBranch() {
			continue
		}
		rs.branches[ref.Name().String()] = ref.Hash().String()
	}
	return rs
}

// Len returns the number of branch refs in the set.
func (rs *RefSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.branches)
}

// TipCommit returns the commit branch points at. branch may be a short name
// or a full refs/heads/ path.
func (rs *RefSet) TipCommit(branch string) (string, bool) {
	if rs == nil {
		return "", false
	}
	sha, ok := rs.branches[BranchRefName(branch)]
	return sha, ok
}

// BranchRefPairs returns the remote-tracking ref and commit of every branch
// in the set, sorted by ref name.
func (rs *RefSet) BranchRefPairs() []RefPair {
	if rs == nil {
		return nil
	}
	pairs := make([]RefPair, 0, len(rs.branches))
	for name, sha := range rs.branches {
		short := strings.TrimPrefix(name, "refs/heads/")
		pairs = append(pairs, RefPair{
			Name: "refs/remotes/" + rs.remoteName + "/" + short,
			SHA:  sha,
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs
}

// BranchRefName returns the refs/heads/ path of branch.
func BranchRefName(branch string) string {
	if strings.HasPrefix(branch, "refs/") {
		return branch
	}
	return plumbing.NewBranchReferenceName(branch).String()
}

// ObjectResponse is a successful objects endpoint response. The caller
// closes Body.
type ObjectResponse struct {
	ContentType string
	Body        io.ReadCloser
}

// IsPack reports whether the body is a packfile.
func (r *ObjectResponse) IsPack() bool {
	return r.ContentType == PackContentType
}

// IsLoose reports whether the body is a single loose object.
func (r *ObjectResponse) IsLoose() bool {
	return r.ContentType == LooseContentType
}

// RequestError is a failed request to the remote.
type RequestError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed. Client errors
// other than timeouts and throttling are final.
func (e *RequestError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return false
	default:
		return true
	}
}
