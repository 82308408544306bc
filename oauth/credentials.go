package oauth

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Credentials is the token set returned by the token endpoint (RFC 6749
// section 5.1). It is also the shape persisted to storage.
type Credentials struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
	// ExpiresIn is the access token lifetime in seconds. Credentials
	// without it are rejected.
	ExpiresIn    *int   `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// Seconds returns a pointer to n, for building Credentials literals.
func Seconds(n int) *int { return &n }

// AuthorizationHeader returns the Authorization header value.
func (c Credentials) AuthorizationHeader() string {
	return c.TokenType + " " + c.AccessToken
}

// Token converts c to an oauth2.Token, taking issuedAt as the moment the
// lifetime started. A zero issuedAt yields a token without expiry.
func (c Credentials) Token(issuedAt time.Time) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    c.TokenType,
		RefreshToken: c.RefreshToken,
	}
	if !issuedAt.IsZero() && c.ExpiresIn != nil {
		tok.Expiry = issuedAt.Add(time.Duration(*c.ExpiresIn) * time.Second)
	}
	extra := map[string]any{}
	if c.Scope != "" {
		extra["scope"] = c.Scope
	}
	if c.IDToken != "" {
		extra["id_token"] = c.IDToken
	}
	if len(extra) > 0 {
		tok = tok.WithExtra(extra)
	}
	return tok
}

func decodeCredentials(b []byte) (Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(b, &c); err != nil {
		return Credentials{}, fmt.Errorf("oauth: decode credentials: %w", err)
	}
	return c, nil
}
