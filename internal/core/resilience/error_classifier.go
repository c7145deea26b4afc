package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/bamops/reconciler/internal/core"
)

// classifyError classifies an error into a type for metrics labeling.
//
// The reconciliation pipeline's own error kinds (internal/core) take
// priority over generic transport sniffing, since bamclient already
// distinguishes rate limiting, conflicts, and permanent upstream failures
// before an error ever reaches a retry policy:
//   - "rate_limit", "conflict", "not_found", "auth_expired",
//     "permission_denied", "upstream_failure", "validation", "fatal"
//
// Anything that didn't originate from bamclient falls back to
// transport-level classification:
//   - "timeout", "network", "context_cancelled", "context_deadline", "dns"
//   - "unknown": all other errors
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, core.ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, core.ErrConflict):
		return "conflict"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, core.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, core.ErrUpstreamFailure):
		return "upstream_failure"
	case errors.Is(err, core.ErrValidation):
		return "validation"
	case errors.Is(err, core.ErrFatal):
		return "fatal"
	case errors.Is(err, core.ErrTransientNetwork):
		return "network"
	}

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "context_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}

	// DNS errors
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}

	// Network operation errors
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return "network"
		}
		if errors.Is(opErr.Err, syscall.ECONNRESET) {
			return "network"
		}
		if errors.Is(opErr.Err, syscall.ENETUNREACH) {
			return "network"
		}
		if errors.Is(opErr.Err, syscall.EHOSTUNREACH) {
			return "network"
		}
		return "network"
	}

	// Check error message for common patterns
	errMsg := strings.ToLower(err.Error())

	// Rate limiting
	if strings.Contains(errMsg, "rate limit") ||
		strings.Contains(errMsg, "too many requests") ||
		strings.Contains(errMsg, "429") {
		return "rate_limit"
	}

	// Timeout errors
	if strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "deadline exceeded") ||
		strings.Contains(errMsg, "timed out") ||
		strings.Contains(errMsg, "i/o timeout") {
		return "timeout"
	}

	// Network errors (generic)
	if strings.Contains(errMsg, "connection") ||
		strings.Contains(errMsg, "network") {
		return "network"
	}

	// Default
	return "unknown"
}
