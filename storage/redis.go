package storage

import (
	"context"
	"errors"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces every key written by Redis.
const DefaultRedisPrefix = "apibuilder:"

// Redis stores values in a Redis server, which lets several processes share
// one persisted identity.
type Redis struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Storage = (*Redis)(nil)

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithRedisPrefix replaces DefaultRedisPrefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithRedisTTL expires stored values after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// NewRedis wraps an existing go-redis client.
func NewRedis(client goredis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: DefaultRedisPrefix}
	for _, o := range opts {
		o(r)
	}
	return r
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &Error{Backend: "redis", Op: "ping", Err: err}
	}
	return NewRedis(client, opts...), nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", &Error{Backend: "redis", Op: "get", Key: key, Err: err}
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return &Error{Backend: "redis", Op: "set", Key: key, Err: err}
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return &Error{Backend: "redis", Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
