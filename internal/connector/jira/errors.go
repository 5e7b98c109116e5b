package jira

import "errors"

var (
	// ErrAuthenticationMissing is returned when the site URL, email or API
	// token is absent.
	ErrAuthenticationMissing = errors.New("not authenticated")

	// ErrNotFound is returned when a required remote object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed requests before any call is made.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Unwrap lets callers match missing credentials with errors.Is.
func (e *ValidationError) Unwrap() error {
	if e.Message == "required" {
		return ErrAuthenticationMissing
	}
	return ErrInvalidInput
}
