package oauth

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apibuilder "github.com/reactwaylabs/api-builder"
	"github.com/reactwaylabs/api-builder/clock"
	"github.com/reactwaylabs/api-builder/storage"
)

// DefaultStorageKey is the storage key credentials are persisted under.
const DefaultStorageKey = "OAuthIdentity"

// Option configures a Manager.
type Option func(*options)

type options struct {
	headers        map[string]string
	renewLead      func(expiresIn int) int
	renewal        bool
	persist        bool
	storage        storage.Storage
	storageKey     string
	clock          clock.Clock
	httpClient     apibuilder.Doer
	timeout        time.Duration
	logger         *zap.Logger
	breaker        *gobreaker.Settings
	policy         RenewalFailurePolicy
	onRenewalError func(error)
}

func defaultOptions() *options {
	return &options{
		renewal:    true,
		persist:    true,
		storageKey: DefaultStorageKey,
		timeout:    30 * time.Second,
		policy:     RenewalKeepCredentials,
	}
}

func (o *options) lead(expiresIn int) int {
	if o.renewLead == nil {
		return DefaultRenewTokenTime
	}
	return o.renewLead(expiresIn)
}

// WithHeaders sets extra headers sent to the OAuth endpoints.
func WithHeaders(h map[string]string) Option {
	return func(o *options) { o.headers = h }
}

// WithRenewTokenTime renews tokens this many seconds before they expire.
func WithRenewTokenTime(seconds int) Option {
	return func(o *options) {
		o.renewLead = func(int) int { return seconds }
	}
}

// WithRenewTokenTimeFunc computes the renewal lead time in seconds from the
// token lifetime.
func WithRenewTokenTimeFunc(fn func(expiresIn int) int) Option {
	return func(o *options) { o.renewLead = fn }
}

// WithTokenRenewal enables or disables scheduled renewal. It is enabled by
// default and only takes effect for credentials carrying a refresh token.
func WithTokenRenewal(enabled bool) Option {
	return func(o *options) { o.renewal = enabled }
}

// WithPersistence enables or disables mirroring credentials to storage.
// It is enabled by default.
func WithPersistence(enabled bool) Option {
	return func(o *options) { o.persist = enabled }
}

// WithStorage sets where credentials are persisted. The default is an
// in-memory store.
func WithStorage(s storage.Storage) Option {
	return func(o *options) { o.storage = s }
}

// WithStorageKey replaces DefaultStorageKey.
func WithStorageKey(key string) Option {
	return func(o *options) { o.storageKey = key }
}

// WithClock sets the clock used to schedule renewals.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithHTTPClient sets the transport for OAuth endpoint calls.
// The timeout option is ignored when a custom client is provided.
func WithHTTPClient(hc apibuilder.Doer) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithTimeout sets the HTTP client timeout for OAuth endpoint calls.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCircuitBreaker guards the OAuth endpoints with a circuit breaker.
// Only transport failures count against it; rejected credentials do not.
func WithCircuitBreaker(st gobreaker.Settings) Option {
	return func(o *options) { o.breaker = &st }
}

// WithRenewalFailurePolicy selects what a failed scheduled renewal does to
// the current credentials.
func WithRenewalFailurePolicy(p RenewalFailurePolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithRenewalErrorHandler receives errors from scheduled renewals, which
// have no caller to return them to.
func WithRenewalErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onRenewalError = fn }
}

// DefaultBreakerSettings returns breaker settings tuned for a token
// endpoint: open after 5 consecutive failures, probe again after a minute.
func DefaultBreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	}
}
