package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// scopeMismatchMarker is what Jira Cloud puts in a 401 body when the token
// is valid but lacks the scope the endpoint needs.
const scopeMismatchMarker = "scope does not match"

const (
	agileScopeHint = "Make sure your Jira user has Jira Software access and the token has the required permissions."
	coreScopeHint  = "Check your Jira permissions and API token."
)

// HTTPError represents a non-success HTTP response.
type HTTPError struct {
	StatusCode int
	Body       string
	Path       string
	// RetryAfter is the server's requested delay, if it sent one.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Body)
	if e.IsScopeMismatch() {
		return msg + ". " + e.Hint()
	}
	return msg
}

// IsScopeMismatch reports a 401 caused by missing token scopes rather than
// bad credentials.
func (e *HTTPError) IsScopeMismatch() bool {
	return e.StatusCode == http.StatusUnauthorized && strings.Contains(e.Body, scopeMismatchMarker)
}

// Hint returns the permission hint for a scope mismatch. Agile endpoints
// need Jira Software access on top of the core API scopes.
func (e *HTTPError) Hint() string {
	if strings.Contains(e.Path, "/rest/agile/1.0/") {
		return agileScopeHint
	}
	return coreScopeHint
}

// IsNotFound returns true for 404 responses.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsRateLimited returns true if this is a rate limit error.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError returns true if this is a server error.
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500
}

// IsScopeMismatch unwraps err and reports whether it is a scope-mismatch 401.
func IsScopeMismatch(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.IsScopeMismatch()
}

// isRetryable determines if an error should be retried.
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsRateLimited() || httpErr.IsServerError()
	}
	return false
}

func retryAfter(err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}
