package prefetch

import (
	"github.com/bianoble/prefetch/internal/config"
	"github.com/bianoble/prefetch/internal/fetch"
	"github.com/bianoble/prefetch/internal/scope"
)

// Type aliases re-export internal types as the public API.

type Config = config.Config
type ValidationError = config.ValidationError
type Stats = fetch.Stats
type FetchError = fetch.FetchError
type InvariantError = fetch.InvariantError
type InvalidScopeError = scope.InvalidScopeError

// Errors callers can match with errors.Is.
var (
	ErrBlankTarget       = fetch.ErrBlankTarget
	ErrBranchNotFound    = fetch.ErrBranchNotFound
	ErrCommitUnavailable = fetch.ErrCommitUnavailable
	ErrInvalidScope      = scope.ErrInvalidScope
)
