package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	httputil "github.com/stridecoach/server/pkg/infrastructure/http"
)

// AuthError is terminal for the whole invocation: the user must reconnect.
// It is the only error class surfaced to the caller as a hard failure.
type AuthError struct {
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// RateLimitError denies the current invocation only. No state is mutated;
// the caller should retry after the given delay.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %ds", e.RetryAfterSeconds)
}

// TransientError reports a sync aborted by caller cancellation or a deadline
// before the cursor could be advanced.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("sync aborted: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// Error bodies the upload tier treats as an invitation to try the backfill
// tier rather than a failure to surface.
var fallbackBodyPatterns = []string{
	"invalid pull token",
	"missing time range parameters",
}

// Error bodies that mark a 403 as an authentication failure rather than a
// plain permission problem.
var authBodyPatterns = []string{
	"invalid token",
	"expired token",
	"access token",
	"unauthorized",
}

// IsAuthClass reports whether err is an authentication-class vendor failure:
// a 401, or a 403 whose body matches known auth-failure shapes. These are
// the only errors eligible for the one-shot refresh-and-retry.
func IsAuthClass(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	httpErr := httputil.AsHTTPError(err)
	if httpErr == nil {
		return false
	}
	if httpErr.StatusCode == http.StatusUnauthorized {
		return true
	}
	return httpErr.StatusCode == http.StatusForbidden && httpErr.BodyMatches(authBodyPatterns...)
}

// IsFallbackWorthy reports whether an upload-tier error should cause the
// chain to try the backfill tier: HTTP 400/404, or a body matching the known
// pull-token and time-range failure shapes. Auth-class errors are never
// fallback-worthy.
func IsFallbackWorthy(err error) bool {
	if IsAuthClass(err) {
		return false
	}
	httpErr := httputil.AsHTTPError(err)
	if httpErr == nil {
		return false
	}
	if httpErr.StatusCode == http.StatusBadRequest || httpErr.StatusCode == http.StatusNotFound {
		return true
	}
	return httpErr.BodyMatches(fallbackBodyPatterns...)
}

// IsCancellation reports whether err stems from the invoking context being
// cancelled or timing out.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
