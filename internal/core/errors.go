// Package core holds error kinds shared across the reconciliation pipeline.
package core

import (
	"errors"
	"fmt"
)

// Error kinds, one sentinel per taxonomy entry. Handlers, the executor, and
// the CLI all classify failures via errors.Is against these rather than
// ad-hoc string matching.
var (
	// ErrValidation marks a row that failed field-level validation before
	// it ever reached the remote client.
	ErrValidation = errors.New("validation error")

	// ErrPathNotFound marks a hierarchical path that the resolver could not
	// locate in the remote inventory.
	ErrPathNotFound = errors.New("path not found")

	// ErrConflict marks a create that collided with an existing remote
	// entity under a "fail" conflict policy.
	ErrConflict = errors.New("conflicting entity exists")

	// ErrNotFound marks an update or delete targeting an entity that no
	// longer exists remotely.
	ErrNotFound = errors.New("entity not found")

	// ErrRateLimited marks a 429 response from the remote API.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransientNetwork marks a retryable network-level failure (timeout,
	// connection reset, 5xx).
	ErrTransientNetwork = errors.New("transient network error")

	// ErrAuthExpired marks a session that needs re-authentication.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrPermissionDenied marks an operation blocked by a safety gate, such
	// as deleting a protected-kind object without allow_dangerous_operations.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUpstreamFailure marks a non-retryable 4xx the remote API
	// returned for reasons other than the above.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrFatal marks an error the pipeline cannot recover from within the
	// current session (corrupted checkpoint, unreadable config, ...).
	ErrFatal = errors.New("fatal error")

	// ErrCyclicDependency marks a dependency graph that could not be
	// topologically ordered.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// RowError wraps an error kind with the row it happened to, so a single
// errors.Is/errors.As chain works all the way from a handler up through the
// executor's result log to the CLI's exit summary.
type RowError struct {
	RowID string
	Field string // optional, set for field-level validation errors
	Err   error
}

// NewRowError wraps err with row context.
func NewRowError(rowID string, err error) *RowError {
	return &RowError{RowID: rowID, Err: err}
}

// NewFieldError wraps err with row and field context.
func NewFieldError(rowID, field string, err error) *RowError {
	return &RowError{RowID: rowID, Field: field, Err: err}
}

func (e *RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %s, field %s: %v", e.RowID, e.Field, e.Err)
	}
	return fmt.Sprintf("row %s: %v", e.RowID, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}
