package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
)

// Content types of the objects endpoint.
const (
	PackContentType  = "application/x-git-packfile"
	LooseContentType = "application/x-git-loose-object"
)

// ObjectServer is a fake objects endpoint backed by a Repo. A single blob is
// served as a loose object; a commit request carries the commit and its
// trees; anything else is a pack of the requested objects.
type ObjectServer struct {
	Repo *Repo

	mu       sync.Mutex
	requests [][]string
	failures []int

	srv *httptest.Server
}

// NewObjectServer starts a server that is closed with the test.
func NewObjectServer(t testing.TB, repo *Repo) *ObjectServer {
	t.Helper()
	s := &ObjectServer{Repo: repo}
	mux := http.NewServeMux()
	mux.HandleFunc("/gvfs/objects", s.handleObjects)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the objects endpoint base, ending in /gvfs.
func (s *ObjectServer) URL() string {
	return s.srv.URL + "/gvfs"
}

// FailNext makes the next len(statuses) requests fail with those statuses.
func (s *ObjectServer) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// Requests returns the object ids of every request received so far.
func (s *ObjectServer) Requests() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.requests))
	copy(out, s.requests)
	return out
}

type objectsRequest struct {
	ObjectIDs   []string `json:"objectIds"`
	CommitDepth int      `json:"commitDepth"`
}

func (s *ObjectServer) handleObjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req objectsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req.ObjectIDs)
	status := 0
	if len(s.failures) > 0 {
		status = s.failures[0]
		s.failures = s.failures[1:]
	}
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if len(req.ObjectIDs) == 0 {
		http.Error(w, "no objects requested", http.StatusBadRequest)
		return
	}

	hashes := make([]plumbing.Hash, 0, len(req.ObjectIDs))
	for _, id := range req.ObjectIDs {
		h := plumbing.NewHash(id)
		if !s.Repo.Has(h) {
			http.Error(w, "object not found: "+id, http.StatusNotFound)
			return
		}
		hashes = append(hashes, h)
	}

	if len(hashes) == 1 {
		switch s.Repo.ObjectType(hashes[0]) {
		case plumbing.CommitObject:
			s.write(w, PackContentType, s.Repo.Pack(s.Repo.CommitObjects(hashes[0].String())))
			return
		case plumbing.BlobObject:
			s.write(w, LooseContentType, s.Repo.Loose(hashes[0]))
			return
		}
	}
	s.write(w, PackContentType, s.Repo.Pack(hashes))
}

func (s *ObjectServer) write(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
