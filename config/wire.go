package config

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	apibuilder "github.com/reactwaylabs/api-builder"
	"github.com/reactwaylabs/api-builder/oauth"
	"github.com/reactwaylabs/api-builder/storage"
)

// BuilderOptions returns the builder options described by c. id may be nil.
func (c *Config) BuilderOptions(id apibuilder.Identity, logger *zap.Logger) []apibuilder.Option {
	opts := []apibuilder.Option{
		apibuilder.WithRequestQueueLimit(c.QueueLimit),
		apibuilder.WithTimeout(c.Timeout),
	}
	if c.Path != "" {
		opts = append(opts, apibuilder.WithPath(c.Path))
	}
	if len(c.Headers) > 0 {
		opts = append(opts, apibuilder.WithDefaultHeaders(c.Headers))
	}
	if len(c.Query) > 0 {
		q := make(url.Values, len(c.Query))
		for k, v := range c.Query {
			q.Set(k, v)
		}
		opts = append(opts, apibuilder.WithDefaultQuery(q))
	}
	if c.RateLimit.RPS > 0 {
		opts = append(opts, apibuilder.WithRateLimit(c.RateLimit.RPS, c.RateLimit.Burst))
	}
	if id != nil {
		opts = append(opts, apibuilder.WithIdentity(id))
	}
	if logger != nil {
		opts = append(opts, apibuilder.WithLogger(logger))
	}
	return opts
}

// IdentityOptions returns the oauth options described by c, persisting
// credentials to store.
func (c *Config) IdentityOptions(store storage.Storage, logger *zap.Logger) []oauth.Option {
	opts := []oauth.Option{
		oauth.WithTimeout(c.Timeout),
		oauth.WithRenewTokenTime(c.OAuth.RenewTokenTime),
		oauth.WithTokenRenewal(!c.OAuth.DisableRenewal),
		oauth.WithStorage(store),
	}
	if c.OAuth.StorageKey != "" {
		opts = append(opts, oauth.WithStorageKey(c.OAuth.StorageKey))
	}
	if len(c.OAuth.Headers) > 0 {
		opts = append(opts, oauth.WithHeaders(c.OAuth.Headers))
	}
	if c.OAuth.RenewalFailure == "logout" {
		opts = append(opts, oauth.WithRenewalFailurePolicy(oauth.RenewalLogout))
	}
	if c.OAuth.CircuitBreaker {
		opts = append(opts, oauth.WithCircuitBreaker(oauth.DefaultBreakerSettings(c.Host+c.OAuth.LoginPath)))
	}
	if logger != nil {
		opts = append(opts, oauth.WithLogger(logger))
	}
	return opts
}

// NewIdentity creates the configured OAuth identity on store.
func (c *Config) NewIdentity(store storage.Storage, logger *zap.Logger) (*oauth.Manager, error) {
	if !c.IdentityEnabled() {
		return nil, fmt.Errorf("config: oauth.login_path is not set")
	}
	return oauth.New(c.Host, c.OAuth.LoginPath, c.OAuth.LogoutPath, c.IdentityOptions(store, logger)...)
}

// OpenStorage opens the configured storage backend. The returned close
// function releases connections held by the backend.
func (c *Config) OpenStorage(ctx context.Context) (storage.Storage, func() error, error) {
	noop := func() error { return nil }
	s := c.Storage

	switch s.Driver {
	case DriverMemory:
		return storage.NewMemory(), noop, nil

	case DriverFile:
		path, err := c.storagePath("credentials.json")
		if err != nil {
			return nil, nil, err
		}
		return storage.NewFile(path), noop, nil

	case DriverSQLite:
		path, err := c.storagePath("credentials.db")
		if err != nil {
			return nil, nil, err
		}
		db, err := storage.OpenSQLite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil

	case DriverRedis:
		var opts []storage.RedisOption
		if s.Redis.Prefix != "" {
			opts = append(opts, storage.WithRedisPrefix(s.Redis.Prefix))
		}
		if s.Redis.TTL > 0 {
			opts = append(opts, storage.WithRedisTTL(s.Redis.TTL))
		}
		r, err := storage.DialRedis(ctx, s.Redis.Addr, s.Redis.Password, s.Redis.DB, opts...)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil

	case DriverKeyring:
		if s.Keyring.Backend == "file" {
			dir, err := c.storagePath("keyring")
			if err != nil {
				return nil, nil, err
			}
			k, err := storage.OpenFileKeyring(s.Keyring.Service, dir, s.Keyring.Password)
			if err != nil {
				return nil, nil, err
			}
			return k, noop, nil
		}
		k, err := storage.OpenKeyring(s.Keyring.Service, s.Path, s.Keyring.Password)
		if err != nil {
			return nil, nil, err
		}
		return k, noop, nil
	}
	return nil, nil, fmt.Errorf("config: unknown storage driver %q", s.Driver)
}
