package apibuilder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Stats holds request counters and the current queue state.
type Stats struct {
	TotalRequests uint64 // transport calls started
	TotalErrors   uint64 // calls settled with an error
	Unauthorized  uint64 // 401 responses that triggered a logout
	Discarded     uint64 // queued calls dropped by logout or Close
	Queued        int
	Pending       int
}

// StatsProvider exposes metrics for external collectors (Prometheus, OTel, etc.).
type StatsProvider interface {
	Stats() Stats
}

// Builder queues requests against one API host and dispatches them under
// the concurrency limit of its scope, attaching credentials from the bound
// identity when asked to.
//
// Builder is safe for concurrent use by multiple goroutines.
type Builder struct {
	host       string
	cfg        *config
	httpClient Doer
	limiter    *rate.Limiter
	scope      *Scope
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	unsubscribe func()

	totalReqs    atomic.Uint64
	totalErrors  atomic.Uint64
	unauthorized atomic.Uint64
	discarded    atomic.Uint64
}

// Compile-time interface check.
var _ StatsProvider = (*Builder)(nil)

// New creates a Builder for host (scheme and authority, e.g.
// "https://api.example.com").
func New(host string, opts ...Option) *Builder {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	var lim *rate.Limiter
	if cfg.rps > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.rps), cfg.burst)
	}

	scope := cfg.scope
	if scope == nil {
		scope = NewScope(cfg.queueLimit)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Builder{
		host:       host,
		cfg:        cfg,
		httpClient: hc,
		limiter:    lim,
		scope:      scope,
		logger:     logger.With(zap.String("host", host)),
		ctx:        ctx,
		cancel:     cancel,
	}

	if cfg.identity != nil {
		b.unsubscribe = cfg.identity.OnLogout(b.onIdentityLogout)
	}
	return b
}

// Scope returns the scheduling scope the builder dispatches through.
func (b *Builder) Scope() *Scope { return b.scope }

// Close detaches the builder from its identity, rejects its queued requests
// with ErrClosed and aborts its in-flight transport calls.
func (b *Builder) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	b.discard(ErrClosed)
	b.cancel()
}

// Stats returns a snapshot of request statistics.
func (b *Builder) Stats() Stats {
	return Stats{
		TotalRequests: b.totalReqs.Load(),
		TotalErrors:   b.totalErrors.Load(),
		Unauthorized:  b.unauthorized.Load(),
		Discarded:     b.discarded.Load(),
		Queued:        b.scope.Len(),
		Pending:       b.scope.Pending(),
	}
}

// Enqueue queues req and returns its completion handle. The request is
// dispatched as soon as the admission rules of the scope allow.
func (b *Builder) Enqueue(req Request) *Call {
	id := uuid.NewString()
	call := newCall(id)

	if !req.Method.valid() {
		b.totalErrors.Add(1)
		call.reject(fmt.Errorf("%w: %q", ErrInvalidMethod, req.Method))
		return call
	}

	// The identity adds headers to the queued copy, never to the caller's map.
	req.Headers = maps.Clone(req.Headers)
	e := &entry{id: id, req: &req, call: call, owner: b}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.totalErrors.Add(1)
		call.reject(ErrClosed)
		return call
	}
	b.scope.push(e)
	b.mu.Unlock()

	b.logger.Debug("request queued",
		zap.String("id", id),
		zap.String("method", string(req.Method)),
		zap.String("path", req.Path),
		zap.Bool("forced", req.Forced),
		zap.Bool("authenticated", req.Authenticated))

	b.scope.drain()
	return call
}

// Do queues req with its own Method and waits for the outcome.
func (b *Builder) Do(ctx context.Context, req Request) (*Response, error) {
	return b.Enqueue(req).Wait(ctx)
}

// Get queues a GET request and waits for the outcome.
func (b *Builder) Get(ctx context.Context, req Request) (*Response, error) {
	req.Method = MethodGet
	return b.Do(ctx, req)
}

// Post queues a POST request and waits for the outcome.
func (b *Builder) Post(ctx context.Context, req Request) (*Response, error) {
	req.Method = MethodPost
	return b.Do(ctx, req)
}

// Put queues a PUT request and waits for the outcome.
func (b *Builder) Put(ctx context.Context, req Request) (*Response, error) {
	req.Method = MethodPut
	return b.Do(ctx, req)
}

// Patch queues a PATCH request and waits for the outcome.
func (b *Builder) Patch(ctx context.Context, req Request) (*Response, error) {
	req.Method = MethodPatch
	return b.Do(ctx, req)
}

// Delete queues a DELETE request and waits for the outcome.
func (b *Builder) Delete(ctx context.Context, req Request) (*Response, error) {
	req.Method = MethodDelete
	return b.Do(ctx, req)
}

// DoJSON performs req and, on a 2xx response, decodes the body into out.
func (b *Builder) DoJSON(ctx context.Context, req Request, out any) (*Response, error) {
	resp, err := b.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if out != nil && resp.OK() && len(resp.Body) > 0 {
		if err := resp.JSON(out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// --- internal helpers ---

// dispatch runs one admitted entry, settles it, and only then frees its
// slot and drains the scope again.
func (b *Builder) dispatch(e *entry) {
	resp, err := b.perform(e)
	if err != nil {
		b.totalErrors.Add(1)
		b.logger.Debug("request failed", zap.String("id", e.id), zap.Error(err))
		e.call.reject(err)
	} else {
		b.logger.Debug("request completed", zap.String("id", e.id), zap.Int("status", resp.StatusCode))
		e.call.resolve(resp)
	}

	b.scope.release()
	b.scope.drain()
}

func (b *Builder) perform(e *entry) (*Response, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	req := e.req
	url := b.buildURL(req)

	if req.Authenticated {
		if b.cfg.identity == nil {
			return nil, ErrNoIdentity
		}
		authed, err := b.cfg.identity.AuthenticateRequest(b.ctx, req)
		if err != nil {
			return nil, fmt.Errorf("apibuilder: authenticate request: %w", err)
		}
		req = authed
	}

	data, contentType, err := req.Body.encode()
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: url, Err: err}
	}

	if err := b.waitRateLimit(); err != nil {
		return nil, &TransportError{Method: req.Method, URL: url, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(b.ctx, string(req.Method), url, body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: url, Err: err}
	}
	for k, v := range b.cfg.defaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	if b.cfg.requestHook != nil {
		b.cfg.requestHook(httpReq)
	}

	b.totalReqs.Add(1)
	b.logger.Debug("request dispatched", zap.String("id", e.id), zap.String("url", url))

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: url, Err: err}
	}

	if b.cfg.responseHook != nil {
		b.cfg.responseHook(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, b.cfg.maxResponseSize))
	resp.Body.Close()
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: url, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusUnauthorized && b.cfg.identity != nil {
		b.unauthorized.Add(1)
		b.logger.Info("unauthorized response, logging identity out", zap.String("id", e.id))
		if err := b.cfg.identity.Logout(b.ctx); err != nil {
			b.logger.Warn("logout after unauthorized response failed", zap.String("id", e.id), zap.Error(err))
		}
		return nil, ErrUnauthorized
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

func (b *Builder) waitRateLimit() error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(b.ctx)
}

func (b *Builder) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Builder) onIdentityLogout() {
	if n := b.discard(ErrQueueCleared); n > 0 {
		b.logger.Info("identity logged out, request queue cleared", zap.Int("discarded", n))
	}
}

// discard removes this builder's queued entries and rejects them with err.
func (b *Builder) discard(err error) int {
	removed := b.scope.remove(b)
	for _, e := range removed {
		b.discarded.Add(1)
		b.totalErrors.Add(1)
		e.call.reject(err)
	}
	return len(removed)
}
