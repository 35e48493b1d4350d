package zotero

import (
	"errors"
	"fmt"
)

// Common errors returned by the Zotero client.
var (
	// ErrAuthError indicates a missing or invalid API key.
	ErrAuthError = errors.New("zotero authentication error")

	// ErrRateLimited indicates the API asked us to back off.
	ErrRateLimited = errors.New("zotero rate limit exceeded")

	// ErrNotFound indicates the resource was not found.
	ErrNotFound = errors.New("not found in zotero")
)

// APIError represents an error response from the Zotero API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zotero API error (status %d): %s", e.StatusCode, e.Message)
}

// IsAuthError returns true if the error indicates an authentication problem.
// The run loop treats these as fatal: every subsequent batch would fail the
// same way.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuthError) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return false
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
