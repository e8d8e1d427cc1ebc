// Package remote talks to the remote object store: the ref advertisement
// and the objects endpoint serving packs and loose objects.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/storage/memory"
	"golang.org/x/time/rate"

	"github.com/bianoble/prefetch/internal/logging"
)

const defaultRetryDelay = 500 * time.Millisecond

// Client queries refs and downloads objects for one remote.
type Client struct {
	RemoteName string
	RepoURL    string
	// Objects is the objects endpoint base; requests go to <Objects>/objects.
	Objects string

	HTTP   HTTPClient
	Lister RefLister
	Store  ObjectWriter

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryDelay is the initial backoff interval.
	RetryDelay time.Duration
	// Limiter paces object requests; nil means unlimited.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// NewLister returns a go-git remote that lists refs of url without a local
// repository.
func NewLister(name, url string) *git.Remote {
	return git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: name,
		URLs: []string{url},
	})
}

// NewLimiter returns a limiter for rps requests per second, or nil when rps
// is not positive.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// ObjectsURL returns the configured objects endpoint.
func (c *Client) ObjectsURL() string {
	return c.Objects
}

// QueryRefs returns the advertised refs matching branch. An empty set means
// the remote does not have the branch.
func (c *Client) QueryRefs(ctx context.Context, branch string) (*RefSet, error) {
	lister := c.Lister
	if lister == nil {
		lister = NewLister(c.RemoteName, c.RepoURL)
	}

	refs, err := lister.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return nil, &RequestError{Op: "list refs", URL: c.RepoURL, Err: err}
	}

	want := BranchRefName(branch)
	matched := refs[:0:0]
	for _, ref := range refs {
		if ref.Name().String() == want {
			matched = append(matched, ref)
		}
	}

	logging.OrNop(c.Logger).Debug("queried refs",
		"branch", branch,
		"advertised", len(refs),
		"matched", len(matched),
	)
	return NewRefSet(c.RemoteName, matched), nil
}

// EnsureCommitIsLocal downloads sha with depth and applies it to Store.
func (c *Client) EnsureCommitIsLocal(ctx context.Context, sha string, depth int) error {
	if c.Store == nil {
		return errors.New("ensure commit: no object store configured")
	}

	resp, err := c.DownloadObjects(ctx, []string{sha}, depth)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.IsLoose() {
		if _, err := c.Store.WriteLooseObject(resp.Body); err != nil {
			return fmt.Errorf("storing commit %s: %w", sha, err)
		}
		return nil
	}
	if err := c.Store.IndexPack(ctx, resp.Body); err != nil {
		return fmt.Errorf("indexing commit %s: %w", sha, err)
	}
	return nil
}

type objectsRequest struct {
	ObjectIDs   []string `json:"objectIds"`
	CommitDepth int      `json:"commitDepth"`
}

// DownloadObjects requests shas from the objects endpoint. Transient
// failures are retried with exponential backoff.
func (c *Client) DownloadObjects(ctx context.Context, shas []string, depth int) (*ObjectResponse, error) {
	url := strings.TrimRight(c.Objects, "/") + "/objects"
	body, err := json.Marshal(objectsRequest{ObjectIDs: shas, CommitDepth: depth})
	if err != nil {
		return nil, fmt.Errorf("encoding objects request: %w", err)
	}

	logger := logging.OrNop(c.Logger)
	delay := c.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = delay
	expBackoff.MaxInterval = 60 * delay
	expBackoff.Reset()

	attempt := 0
	operation := func() (*ObjectResponse, error) {
		attempt++
		resp, err := c.post(ctx, url, body)
		if err != nil {
			var permanent *backoff.PermanentError
			if errors.As(err, &permanent) {
				return nil, err
			}
			var reqErr *RequestError
			if errors.As(err, &reqErr) && !reqErr.Retryable() {
				return nil, backoff.Permanent(err)
			}
			logger.Warn("object request failed",
				"url", url,
				"objects", len(shas),
				"attempt", attempt,
				"error", err,
			)
			return nil, err
		}
		return resp, nil
	}

	maxRetries := c.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(maxRetries+1)), // #nosec G115 -- validated non-negative
		backoff.WithNotify(func(_ error, d time.Duration) {
			logger.Debug("retrying object request", "url", url, "after", d)
		}),
	)
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*ObjectResponse, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", PackContentType+", "+LooseContentType)

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &RequestError{Op: "download objects", URL: url, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, &RequestError{
			Op:         "download objects",
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(msg))),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType != PackContentType && contentType != LooseContentType {
		_ = resp.Body.Close()
		return nil, backoff.Permanent(&RequestError{
			Op:         "download objects",
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected content type %q", contentType),
		})
	}

	return &ObjectResponse{ContentType: contentType, Body: resp.Body}, nil
}
