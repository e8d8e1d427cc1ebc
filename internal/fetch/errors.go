package fetch

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by FetchError.
var (
	ErrBlankTarget       = errors.New("no branch or commit given")
	ErrRefQueryEmpty     = errors.New("remote returned no refs")
	ErrBranchNotFound    = errors.New("branch not found on remote")
	ErrCommitUnavailable = errors.New("commit could not be made local")
	ErrDiffFailed        = errors.New("diff failed")
	ErrShallowState      = errors.New("shallow state unusable")
	ErrRefUpdate         = errors.New("ref update failed")
)

// FetchError is a fatal, recoverable fetch failure. It carries enough
// context to retry: the target and, for network failures, the endpoint.
type FetchError struct {
	Op       string
	Target   string
	Endpoint string
	Err      error
}

func (e *FetchError) Error() string {
	msg := e.Op + " failed"
	if e.Target != "" {
		msg = fmt.Sprintf("%s for '%s'", msg, e.Target)
	}
	msg += ": " + e.Err.Error()
	if e.Endpoint != "" {
		msg += " (objects endpoint " + e.Endpoint + ")"
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// InvariantError is a programming error. It is only ever raised with panic
// and must not be handled as an ordinary failure.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Msg
}
