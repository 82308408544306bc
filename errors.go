package apibuilder

import (
	"errors"
	"fmt"
)

var (
	// ErrNoIdentity is returned for an authenticated request on a builder
	// without an identity.
	ErrNoIdentity = errors.New("apibuilder: request is authenticated but no identity is configured")

	// ErrUnauthorized is returned when the server answers 401 to a request
	// on an identity-bound builder. The identity is logged out before the
	// error is delivered.
	ErrUnauthorized = errors.New("apibuilder: unauthorized request")

	// ErrQueueCleared is returned to queued requests discarded because the
	// identity logged out.
	ErrQueueCleared = errors.New("apibuilder: request queue cleared after logout")

	// ErrClosed is returned for requests made on, or still queued by, a
	// closed builder.
	ErrClosed = errors.New("apibuilder: builder closed")

	// ErrInvalidMethod is returned by Do for methods outside GET, POST,
	// PUT, PATCH and DELETE.
	ErrInvalidMethod = errors.New("apibuilder: unsupported method")
)

// TransportError wraps a failure to perform or read a transport call.
type TransportError struct {
	Method Method
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("apibuilder: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
