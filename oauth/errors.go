package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrAnonymous is returned by operations that need credentials when the
	// manager holds none.
	ErrAnonymous = errors.New("oauth: not logged in")

	// ErrAuthentication marks a rejected login.
	ErrAuthentication = errors.New("oauth: authentication failed")

	// ErrLogout marks a rejected logout. The credentials are kept.
	ErrLogout = errors.New("oauth: logout failed")

	// ErrRenewal marks a rejected token renewal. The previous credentials
	// are kept unless the RenewalLogout policy is selected.
	ErrRenewal = errors.New("oauth: token renewal failed")

	// ErrMissingExpiry is returned for credentials without expires_in.
	// Nothing is installed.
	ErrMissingExpiry = errors.New("oauth: credentials have no expires_in")
)

// StatusError is returned when an OAuth endpoint answers with a non-2xx
// status. It unwraps to ErrAuthentication, ErrLogout or ErrRenewal.
type StatusError struct {
	Op         string // "login", "logout", "renew"
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s returned status %d", e.kind, e.Op, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.kind }
