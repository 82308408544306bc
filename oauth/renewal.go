package oauth

import "time"

// DefaultRenewTokenTime is how many seconds before expiry a token is
// renewed when no lead time is configured.
const DefaultRenewTokenTime = 120

// RenewalFailurePolicy decides what happens to the credentials when a
// scheduled renewal fails.
type RenewalFailurePolicy int

const (
	// RenewalKeepCredentials keeps the old credentials until they are
	// rejected by the API, which then triggers the usual 401 logout.
	RenewalKeepCredentials RenewalFailurePolicy = iota
	// RenewalLogout drops the credentials locally and emits EventLogout.
	RenewalLogout
)

func (p RenewalFailurePolicy) String() string {
	switch p {
	case RenewalKeepCredentials:
		return "keep"
	case RenewalLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// RenewalDelay returns how long to wait before renewing credentials that
// expire in expiresIn seconds, renewing lead seconds ahead of expiry. A lead
// longer than the lifetime renews at expiry instead of immediately.
func RenewalDelay(expiresIn, lead int) time.Duration {
	delay := expiresIn - lead
	if lead > expiresIn {
		delay = expiresIn
	}
	return time.Duration(delay) * time.Second
}
