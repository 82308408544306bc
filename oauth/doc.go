// Package oauth implements an OAuth2 password-grant identity for
// apibuilder.
//
// A Manager logs in with a username and password and keeps the returned
// credentials in memory, optionally mirrored to a storage.Storage. It renews
// them with the refresh token shortly before they expire and revokes them
// on Logout. Builders bound to the Manager get an Authorization header on
// authenticated requests and drop their queue when it logs out.
//
// Renewal is scheduled on an injected clock.Clock, so the whole lifecycle
// can be driven deterministically with clock.Manual in tests.
package oauth
