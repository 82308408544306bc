// Package apibuilder schedules outbound API requests through a bounded
// queue and attaches OAuth2 credentials to the ones that need them.
//
// Every request made through a Builder is queued in a Scope and dispatched
// under these rules:
//   - Forced requests leave the queue first, from any position, and ignore
//     the concurrency limit
//   - Other requests leave in FIFO order while fewer than the scope's limit
//     are in flight
//   - A finished request frees its slot before the queue is drained again
//
// A Builder bound to an Identity (see package oauth) authenticates requests
// flagged Authenticated. A 401 response logs the identity out, and a logout
// discards everything still queued.
//
// Configuration uses the functional options pattern:
//
//	id, _ := oauth.New("https://auth.example.com", "/oauth/token", "/oauth/revoke")
//	api := apibuilder.New("https://api.example.com",
//	    apibuilder.WithPath("/v1"),
//	    apibuilder.WithRequestQueueLimit(2),
//	    apibuilder.WithIdentity(id),
//	)
//	defer api.Close()
//
//	if err := id.Login(ctx, "user", "secret"); err != nil { ... }
//	resp, err := api.Get(ctx, apibuilder.Request{Path: "/me", Authenticated: true})
package apibuilder
