package integrations

import (
	"errors"
	"fmt"
)

var (
	// ErrStateMismatch means no cached state exists for the callback's (org, user)
	// or its token differs from the one echoed back.
	ErrStateMismatch = errors.New("state does not match")

	// ErrNoCredentials means credentials were never stored or were already picked up.
	ErrNoCredentials = errors.New("no credentials found")

	// ErrInvalidRequest covers malformed callback parameters and credential blobs.
	ErrInvalidRequest = errors.New("invalid request")
)

// RequestError is a client mistake. Detail is safe to show the caller; Err
// keeps the underlying cause for logs. It matches ErrInvalidRequest.
type RequestError struct {
	Detail string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err == nil {
		return e.Detail
	}
	return fmt.Sprintf("%s: %v", e.Detail, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func (e *RequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// AuthorizationError is returned when the provider redirect carries an error parameter.
type AuthorizationError struct {
	Provider    string
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s authorization failed: %s", e.Provider, e.Detail())
}

// Detail is the caller-facing description of the rejection.
func (e *AuthorizationError) Detail() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s (%s)", e.Description, e.Code)
}

// UpstreamError wraps a failed call to a provider's token endpoint or API.
type UpstreamError struct {
	Provider   string
	Operation  string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed with status %d: %v", e.Provider, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
