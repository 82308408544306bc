package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apibuilder "github.com/reactwaylabs/api-builder"
	"github.com/reactwaylabs/api-builder/clock"
	"github.com/reactwaylabs/api-builder/internal/fakeapi"
	"github.com/reactwaylabs/api-builder/storage"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	api   *fakeapi.Server
	clock *clock.Manual
	store *storage.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := fakeapi.New(map[string]string{"alice": "secret"})
	t.Cleanup(api.Close)
	return &fixture{api: api, clock: clock.NewManual(epoch), store: storage.NewMemory()}
}

func (f *fixture) manager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	base := []Option{WithClock(f.clock), WithStorage(f.store)}
	m, err := New(f.api.URL, fakeapi.TokenPath, fakeapi.RevokePath, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func (f *fixture) persisted(t *testing.T) (Credentials, bool) {
	t.Helper()
	raw, err := f.store.Get(context.Background(), DefaultStorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return Credentials{}, false
	}
	require.NoError(t, err)
	var c Credentials
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c, true
}

func TestLoginInstallsAndSchedulesRenewal(t *testing.T) {
	f := newFixture(t)
	f.api.SetExpiresIn(28800)
	m := f.manager(t)

	require.False(t, m.Authenticated())
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))

	assert.True(t, m.Authenticated())
	assert.Equal(t, []time.Duration{28680 * time.Second}, f.clock.Pending())

	creds, ok := m.Credentials()
	require.True(t, ok)
	assert.Equal(t, "Bearer", creds.TokenType)
	require.NotNil(t, creds.ExpiresIn)
	assert.Equal(t, 28800, *creds.ExpiresIn)
	assert.NotEmpty(t, creds.RefreshToken)

	stored, ok := f.persisted(t)
	require.True(t, ok)
	assert.Equal(t, creds, stored)
}

func TestRenewTokenTimeLongerThanLifetime(t *testing.T) {
	f := newFixture(t)
	f.api.SetExpiresIn(28800)
	m := f.manager(t, WithRenewTokenTime(28900))

	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	assert.Equal(t, []time.Duration{28800 * time.Second}, f.clock.Pending())
}

func TestRenewTokenTimeFunc(t *testing.T) {
	f := newFixture(t)
	f.api.SetExpiresIn(1000)
	m := f.manager(t, WithRenewTokenTimeFunc(func(expiresIn int) int { return expiresIn / 10 }))

	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	assert.Equal(t, []time.Duration{900 * time.Second}, f.clock.Pending())
}

func TestReloginKeepsSingleTimer(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)

	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	assert.Len(t, f.clock.Pending(), 1)
}

func TestNoTimerWithoutRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.api.OmitRefreshToken(true)
	m := f.manager(t)

	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	assert.True(t, m.Authenticated())
	assert.Empty(t, f.clock.Pending())
}

func TestNoTimerWhenRenewalDisabled(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, WithTokenRenewal(false))

	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	assert.Empty(t, f.clock.Pending())
}

func TestLoginRejected(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)

	var logins int
	m.OnLogin(func() { logins++ })

	err := m.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, ErrAuthentication)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "login", se.Op)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Contains(t, se.Body, "invalid_grant")

	assert.False(t, m.Authenticated())
	assert.Zero(t, logins)
	_, ok := f.persisted(t)
	assert.False(t, ok)
}

func TestLoginWithoutExpiryKeepsPreviousState(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)

	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	before, _ := m.Credentials()
	pending := f.clock.Pending()

	f.api.OmitExpiresIn(true)
	err := m.Login(context.Background(), "alice", "secret")
	require.ErrorIs(t, err, ErrMissingExpiry)

	after, ok := m.Credentials()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, pending, f.clock.Pending())

	stored, _ := f.persisted(t)
	assert.Equal(t, before, stored)
}

func TestLoginEventPrecedesInstall(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)

	var authenticatedAtEvent *bool
	m.OnLogin(func() {
		v := m.Authenticated()
		authenticatedAtEvent = &v
	})

	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	require.NotNil(t, authenticatedAtEvent)
	assert.False(t, *authenticatedAtEvent)
}

func TestAnonymousOperations(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)

	assert.ErrorIs(t, m.Logout(context.Background()), ErrAnonymous)

	_, err := m.AuthenticateRequest(context.Background(), &apibuilder.Request{Authenticated: true})
	assert.ErrorIs(t, err, ErrAnonymous)
	_, err = m.AuthenticateRequest(context.Background(), &apibuilder.Request{})
	assert.ErrorIs(t, err, ErrAnonymous)

	_, err = m.Token()
	assert.ErrorIs(t, err, ErrAnonymous)

	_, _, logouts := f.api.Counts()
	assert.Zero(t, logouts)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))

	var events int
	var persistedAtEvent bool
	m.OnLogout(func() {
		events++
		_, persistedAtEvent = f.persisted(t)
	})

	require.NoError(t, m.Logout(context.Background()))

	assert.False(t, m.Authenticated())
	assert.Equal(t, 1, events)
	assert.False(t, persistedAtEvent)
	assert.Empty(t, f.clock.Pending())
	_, ok := f.persisted(t)
	assert.False(t, ok)

	_, _, logouts := f.api.Counts()
	assert.Equal(t, 1, logouts)
}

func TestLogoutRejectedKeepsCredentials(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))

	var events int
	m.OnLogout(func() { events++ })

	f.api.FailLogout(true)
	err := m.Logout(context.Background())
	require.ErrorIs(t, err, ErrLogout)

	assert.True(t, m.Authenticated())
	assert.Zero(t, events)
	assert.Len(t, f.clock.Pending(), 1)
	_, ok := f.persisted(t)
	assert.True(t, ok)
}

func TestAuthenticateRequest(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	creds, _ := m.Credentials()

	req := &apibuilder.Request{
		Authenticated: true,
		Headers:       map[string]string{"authorization": "stale", "X-Keep": "1"},
	}
	out, err := m.AuthenticateRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer " + creds.AccessToken,
		"X-Keep":        "1",
	}, out.Headers)

	plain := &apibuilder.Request{Path: "/public"}
	out, err = m.AuthenticateRequest(context.Background(), plain)
	require.NoError(t, err)
	assert.Nil(t, out.Headers)
}

func TestScheduledRenewal(t *testing.T) {
	f := newFixture(t)
	f.api.SetExpiresIn(300)
	m := f.manager(t)
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	before, _ := m.Credentials()

	f.clock.Advance(179 * time.Second)
	_, renewals, _ := f.api.Counts()
	require.Zero(t, renewals)

	f.clock.Advance(time.Second)
	_, renewals, _ = f.api.Counts()
	require.Equal(t, 1, renewals)

	after, ok := m.Credentials()
	require.True(t, ok)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)
	assert.Equal(t, []time.Duration{180 * time.Second}, f.clock.Pending())

	stored, _ := f.persisted(t)
	assert.Equal(t, after, stored)

	tok, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(180*time.Second+300*time.Second), tok.Expiry)
}

func TestRenewalFailureKeepsCredentials(t *testing.T) {
	f := newFixture(t)
	f.api.SetExpiresIn(300)

	var renewalErr error
	m := f.manager(t, WithRenewalErrorHandler(func(err error) { renewalErr = err }))
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	before, _ := m.Credentials()

	var logouts int
	m.OnLogout(func() { logouts++ })

	f.api.FailRenew(true)
	f.clock.Advance(180 * time.Second)

	require.ErrorIs(t, renewalErr, ErrRenewal)
	after, ok := m.Credentials()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Zero(t, logouts)
	assert.Empty(t, f.clock.Pending())
}

func TestRenewalFailureLogoutPolicy(t *testing.T) {
	f := newFixture(t)
	f.api.SetExpiresIn(300)
	m := f.manager(t, WithRenewalFailurePolicy(RenewalLogout))
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))

	var logouts int
	m.OnLogout(func() { logouts++ })

	f.api.FailRenew(true)
	f.clock.Advance(180 * time.Second)

	assert.False(t, m.Authenticated())
	assert.Equal(t, 1, logouts)
	_, ok := f.persisted(t)
	assert.False(t, ok)

	// The server was never told; only the local state is dropped.
	_, _, revoked := f.api.Counts()
	assert.Zero(t, revoked)
}

func TestStaleRenewalIsDiscarded(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))

	first, _ := m.Credentials()
	gen := m.store.generation()

	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	second, _ := m.Credentials()

	require.NoError(t, m.renew(context.Background(), gen, first.RefreshToken))

	current, _ := m.Credentials()
	assert.Equal(t, second, current)
}

func TestRestoreFromStorage(t *testing.T) {
	f := newFixture(t)
	persisted := Credentials{
		TokenType:    "Bearer",
		AccessToken:  "restored",
		ExpiresIn:    Seconds(600),
		RefreshToken: "rt",
	}
	raw, err := json.Marshal(persisted)
	require.NoError(t, err)
	require.NoError(t, f.store.Set(context.Background(), DefaultStorageKey, string(raw)))

	m := f.manager(t)

	creds, ok := m.Credentials()
	require.True(t, ok)
	assert.Equal(t, persisted, creds)
	assert.Empty(t, f.clock.Pending())

	tok, err := m.Token()
	require.NoError(t, err)
	assert.True(t, tok.Expiry.IsZero())
	assert.Equal(t, "restored", tok.AccessToken)
}

func TestRestoreCustomKey(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, WithStorageKey("other"))
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))

	_, ok := f.persisted(t)
	assert.False(t, ok)
	_, err := f.store.Get(context.Background(), "other")
	require.NoError(t, err)

	m2 := f.manager(t, WithStorageKey("other"))
	assert.True(t, m2.Authenticated())
}

func TestRestoreIgnoresUnusableData(t *testing.T) {
	for name, raw := range map[string]string{
		"corrupt":   "{not json",
		"no expiry": `{"token_type":"Bearer","access_token":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.store.Set(context.Background(), DefaultStorageKey, raw))
			m := f.manager(t)
			assert.False(t, m.Authenticated())
		})
	}
}

type brokenStorage struct{ err error }

func (b brokenStorage) Get(context.Context, string) (string, error) { return "", b.err }
func (b brokenStorage) Set(context.Context, string, string) error  { return b.err }
func (b brokenStorage) Delete(context.Context, string) error       { return b.err }

func TestRestoreStorageError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("unreachable")
	_, err := New(f.api.URL, fakeapi.TokenPath, fakeapi.RevokePath,
		WithClock(f.clock), WithStorage(brokenStorage{err: boom}))
	require.ErrorIs(t, err, boom)
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	m, err := New(f.api.URL, fakeapi.TokenPath, fakeapi.RevokePath,
		WithClock(f.clock), WithStorage(brokenStorage{err: storage.ErrNotFound}))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	assert.True(t, m.Authenticated())
}

func TestPersistenceDisabled(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, WithPersistence(false))
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))

	assert.True(t, m.Authenticated())
	assert.Zero(t, f.store.Len())
}

func TestCloseStopsRenewal(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	require.NoError(t, m.Login(context.Background(), "alice", "secret"))

	m.Close()
	assert.Empty(t, f.clock.Pending())
	assert.True(t, m.Authenticated())
	_, ok := f.persisted(t)
	assert.True(t, ok)
}

func TestEndpointRequestShape(t *testing.T) {
	type seen struct {
		contentType, accept, custom string
		form                        map[string]string
	}
	ch := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		ch <- seen{r.Header.Get("Content-Type"), r.Header.Get("Accept"), r.Header.Get("X-Client"), form}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token_type":"Bearer","access_token":"a","expires_in":60}`))
	}))
	defer srv.Close()

	m, err := New(srv.URL, "/token", "/revoke",
		WithClock(clock.NewManual(epoch)),
		WithHeaders(map[string]string{"X-Client": "tests"}))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Login(context.Background(), "bob", "pw"))
	got := <-ch
	assert.Equal(t, "application/x-www-form-urlencoded", got.contentType)
	assert.Equal(t, "application/json", got.accept)
	assert.Equal(t, "tests", got.custom)
	assert.Equal(t, map[string]string{"grant_type": "password", "username": "bob", "password": "pw"}, got.form)
}

type failingDoer struct{ calls int }

func (d *failingDoer) Do(*http.Request) (*http.Response, error) {
	d.calls++
	return nil, errors.New("connection refused")
}

func TestCircuitBreakerOpens(t *testing.T) {
	st := DefaultBreakerSettings("token-endpoint")
	st.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 2 }

	doer := &failingDoer{}
	m, err := New("http://auth.invalid", "/token", "/revoke",
		WithClock(clock.NewManual(epoch)),
		WithHTTPClient(doer),
		WithCircuitBreaker(st))
	require.NoError(t, err)
	defer m.Close()

	for i := 0; i < 2; i++ {
		require.Error(t, m.Login(context.Background(), "a", "b"))
	}
	err = m.Login(context.Background(), "a", "b")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, doer.calls)
}

func TestDefaultBreakerSettings(t *testing.T) {
	st := DefaultBreakerSettings("x")
	assert.Equal(t, "x", st.Name)
	assert.False(t, st.ReadyToTrip(gobreaker.Counts{ConsecutiveFailures: 4}))
	assert.True(t, st.ReadyToTrip(gobreaker.Counts{ConsecutiveFailures: 5}))
}

func TestDefaultStorageIsMemory(t *testing.T) {
	api := fakeapi.New(map[string]string{"alice": "secret"})
	defer api.Close()

	m, err := New(api.URL, fakeapi.TokenPath, fakeapi.RevokePath, WithClock(clock.NewManual(epoch)))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Login(context.Background(), "alice", "secret"))
	assert.True(t, m.Authenticated())
}
