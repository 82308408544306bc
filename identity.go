package apibuilder

import "context"

// Identity attaches credentials to requests and owns their lifecycle.
// oauth.Manager is the provided implementation.
type Identity interface {
	// AuthenticateRequest adds credentials to req. It fails when the
	// identity holds no credentials.
	AuthenticateRequest(ctx context.Context, req *Request) (*Request, error)
	// Logout drops the credentials. The builder calls it when the server
	// rejects a request with 401.
	Logout(ctx context.Context) error
	// OnLogout registers fn to run after every successful logout and
	// returns a function that removes it.
	OnLogout(fn func()) (unsubscribe func())
}
