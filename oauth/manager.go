package oauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	apibuilder "github.com/reactwaylabs/api-builder"
	"github.com/reactwaylabs/api-builder/clock"
	"github.com/reactwaylabs/api-builder/storage"
)

// maxTokenResponseSize bounds how much of an OAuth endpoint response is read.
const maxTokenResponseSize = 1 << 20

// Manager is an OAuth2 password-grant identity. It is Anonymous until Login
// succeeds (or persisted credentials are restored) and Authenticated until
// Logout succeeds.
//
// Manager is safe for concurrent use.
type Manager struct {
	host       string
	loginPath  string
	logoutPath string

	opts       *options
	httpClient apibuilder.Doer
	breaker    *gobreaker.CircuitBreaker
	notifier   *Notifier
	store      *tokenStore
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Compile-time interface checks.
var (
	_ apibuilder.Identity = (*Manager)(nil)
	_ oauth2.TokenSource  = (*Manager)(nil)
)

// New creates a Manager that logs in at host+loginPath and revokes at
// host+logoutPath. Credentials persisted by an earlier Manager under the
// same storage key are restored; an unreachable storage is an error.
func New(host, loginPath, logoutPath string, opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: o.timeout}
	}
	clk := o.clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("oauth")

	var store storage.Storage
	if o.persist {
		store = o.storage
		if store == nil {
			store = storage.NewMemory()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		host:       host,
		loginPath:  loginPath,
		logoutPath: logoutPath,
		opts:       o,
		httpClient: hc,
		notifier:   NewNotifier(),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	if o.breaker != nil {
		m.breaker = gobreaker.NewCircuitBreaker(*o.breaker)
	}
	m.store = &tokenStore{
		clock:   clk,
		storage: store,
		key:     o.storageKey,
		renewal: o.renewal,
		lead:    o.lead,
		onRenew: m.renewScheduled,
		logger:  logger,
	}

	if err := m.store.restore(ctx); err != nil {
		cancel()
		return nil, err
	}
	return m, nil
}

// Login exchanges username and password for credentials (RFC 6749 section
// 4.3) and installs them. EventLogin is emitted between the two.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	status, body, err := m.post(ctx, m.loginPath, url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	})
	if err != nil {
		return fmt.Errorf("oauth: login: %w", err)
	}
	if !is2xx(status) {
		return &StatusError{Op: "login", StatusCode: status, Body: body, kind: ErrAuthentication}
	}

	m.notifier.Emit(EventLogin)

	creds, err := decodeCredentials([]byte(body))
	if err != nil {
		return err
	}
	if err := m.store.install(ctx, creds); err != nil {
		return err
	}
	m.logger.Info("logged in", zap.String("token_type", creds.TokenType))
	return nil
}

// Logout revokes the refresh token. On success the credentials, the renewal
// timer and the persisted copy are dropped and EventLogout is emitted. On
// failure nothing changes.
func (m *Manager) Logout(ctx context.Context) error {
	creds, _, ok := m.store.current()
	if !ok {
		return ErrAnonymous
	}

	status, body, err := m.post(ctx, m.logoutPath, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {creds.RefreshToken},
	})
	if err != nil {
		return fmt.Errorf("oauth: logout: %w", err)
	}
	if !is2xx(status) {
		return &StatusError{Op: "logout", StatusCode: status, Body: body, kind: ErrLogout}
	}

	m.store.clear(ctx)
	m.logger.Info("logged out")
	m.notifier.Emit(EventLogout)
	return nil
}

// AuthenticateRequest sets the Authorization header on requests flagged
// Authenticated and leaves others untouched. It fails while Anonymous.
func (m *Manager) AuthenticateRequest(_ context.Context, req *apibuilder.Request) (*apibuilder.Request, error) {
	creds, _, ok := m.store.current()
	if !ok {
		return nil, ErrAnonymous
	}
	if !req.Authenticated {
		return req, nil
	}
	if req.Headers == nil {
		req.Headers = make(map[string]string, 1)
	}
	for k := range req.Headers {
		if strings.EqualFold(k, "Authorization") {
			delete(req.Headers, k)
		}
	}
	req.Headers["Authorization"] = creds.AuthorizationHeader()
	return req, nil
}

// Authenticated reports whether credentials are held.
func (m *Manager) Authenticated() bool {
	_, _, ok := m.store.current()
	return ok
}

// Credentials returns a copy of the current credentials.
func (m *Manager) Credentials() (Credentials, bool) {
	c, _, ok := m.store.current()
	return c, ok
}

// Token returns the current access token, making the Manager usable as an
// oauth2.TokenSource. It never renews on its own; renewal is scheduled.
func (m *Manager) Token() (*oauth2.Token, error) {
	c, issuedAt, ok := m.store.current()
	if !ok {
		return nil, ErrAnonymous
	}
	return c.Token(issuedAt), nil
}

// Subscribe registers fn for ev and returns a function that removes it.
func (m *Manager) Subscribe(ev Event, fn func()) (unsubscribe func()) {
	return m.notifier.Subscribe(ev, fn)
}

// OnLogin registers fn for EventLogin.
func (m *Manager) OnLogin(fn func()) (unsubscribe func()) {
	return m.notifier.Subscribe(EventLogin, fn)
}

// OnLogout registers fn for EventLogout.
func (m *Manager) OnLogout(fn func()) (unsubscribe func()) {
	return m.notifier.Subscribe(EventLogout, fn)
}

// Close stops the renewal timer and aborts a renewal in progress. The
// credentials are kept, in memory and in storage.
func (m *Manager) Close() {
	m.store.stop()
	m.cancel()
}

// renew exchanges refreshToken for new credentials (RFC 6749 section 6)
// and installs them unless the state changed since gen.
func (m *Manager) renew(ctx context.Context, gen uint64, refreshToken string) error {
	status, body, err := m.post(ctx, m.loginPath, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
	if err != nil {
		return fmt.Errorf("oauth: renew: %w", err)
	}
	if !is2xx(status) {
		return &StatusError{Op: "renew", StatusCode: status, Body: body, kind: ErrRenewal}
	}

	creds, err := decodeCredentials([]byte(body))
	if err != nil {
		return err
	}
	installed, err := m.store.installIf(ctx, gen, creds)
	if err != nil {
		return err
	}
	if !installed {
		m.logger.Debug("discarding renewal result, credentials changed meanwhile")
		return nil
	}
	m.logger.Info("token renewed")
	return nil
}

// renewScheduled is the renewal timer callback.
func (m *Manager) renewScheduled(gen uint64, refreshToken string) {
	err := m.renew(m.ctx, gen, refreshToken)
	if err == nil {
		return
	}

	m.logger.Error("scheduled token renewal failed",
		zap.Stringer("policy", m.opts.policy), zap.Error(err))
	if m.opts.onRenewalError != nil {
		m.opts.onRenewalError(err)
	}
	if m.opts.policy == RenewalLogout && m.store.clearIf(m.ctx, gen) {
		m.logger.Info("credentials dropped after failed renewal")
		m.notifier.Emit(EventLogout)
	}
}

// post sends a form-encoded POST to host+path and returns the status and
// the (bounded) body.
func (m *Manager) post(ctx context.Context, path string, form url.Values) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.host+path, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	for k, v := range m.opts.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var resp *http.Response
	if m.breaker != nil {
		_, err = m.breaker.Execute(func() (interface{}, error) {
			var httpErr error
			resp, httpErr = m.httpClient.Do(req)
			return nil, httpErr
		})
	} else {
		resp, err = m.httpClient.Do(req)
	}
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, string(b), nil
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}
