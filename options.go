package apibuilder

import (
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Option configures a Builder.
type Option func(*config)

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type config struct {
	path            string
	defaultHeaders  map[string]string
	defaultQuery    url.Values
	queueLimit      int
	identity        Identity
	scope           *Scope
	rps             float64
	burst           int
	maxResponseSize int64
	timeout         time.Duration
	httpClient      Doer
	logger          *zap.Logger

	requestHook  func(req *http.Request)
	responseHook func(resp *http.Response)
}

func defaultConfig() *config {
	return &config{
		queueLimit:      DefaultRequestQueueLimit,
		burst:           1,
		maxResponseSize: 10 * 1024 * 1024, // 10 MB
		timeout:         30 * time.Second,
	}
}

// WithPath sets a path prefix inserted between the host and every request path.
func WithPath(prefix string) Option {
	return func(c *config) { c.path = prefix }
}

// WithDefaultHeaders sets headers sent with every request. Request headers
// with the same name take precedence.
func WithDefaultHeaders(h map[string]string) Option {
	return func(c *config) { c.defaultHeaders = h }
}

// WithDefaultQuery sets query parameters sent with every request. A request
// parameter with the same key replaces the default one.
func WithDefaultQuery(q url.Values) Option {
	return func(c *config) { c.defaultQuery = q }
}

// WithRequestQueueLimit sets how many non-forced requests may be in flight
// at once. It applies to the builder's own scope and is ignored together
// with WithScope, whose Scope carries its own limit.
func WithRequestQueueLimit(n int) Option {
	return func(c *config) { c.queueLimit = n }
}

// WithIdentity binds an identity. Authenticated requests are passed through
// it, a 401 response logs it out, and its logout discards the queue.
func WithIdentity(id Identity) Option {
	return func(c *config) { c.identity = id }
}

// WithScope makes the builder share s with other builders instead of
// owning a private scope.
func WithScope(s *Scope) Option {
	return func(c *config) { c.scope = s }
}

// WithRateLimit paces dispatched requests with a token bucket in requests
// per second and burst size. Pacing happens after admission, so a waiting
// request still counts against the queue limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.rps = rps
		if burst > 0 {
			c.burst = burst
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxResponseSize sets the maximum response body size in bytes.
func WithMaxResponseSize(n int64) Option {
	return func(c *config) { c.maxResponseSize = n }
}

// WithHTTPClient sets the transport used for every request.
// The timeout option is ignored when a custom client is provided.
func WithHTTPClient(hc Doer) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRequestHook sets a hook called before each request is sent.
func WithRequestHook(fn func(req *http.Request)) Option {
	return func(c *config) { c.requestHook = fn }
}

// WithResponseHook sets a hook called after each response is received.
func WithResponseHook(fn func(resp *http.Response)) Option {
	return func(c *config) { c.responseHook = fn }
}
