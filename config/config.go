// Package config loads the settings of the apibuilder command-line tool.
//
// Settings come from three layers, later ones winning:
//
//  1. built-in defaults (Default),
//  2. an optional YAML file,
//  3. APIBUILDER_* environment variables, after a .env file in the
//     working directory has been loaded into the environment.
//
// Environment variables:
//
//   - APIBUILDER_HOST: API scheme and authority (required)
//   - APIBUILDER_PATH: path prefix for every request
//   - APIBUILDER_QUEUE_LIMIT: concurrent non-forced requests (default 5)
//   - APIBUILDER_TIMEOUT: HTTP timeout, e.g. "30s"
//   - APIBUILDER_LOG_LEVEL: debug, info, warn or error
//   - APIBUILDER_LOGIN_PATH / APIBUILDER_LOGOUT_PATH: OAuth endpoints
//   - APIBUILDER_RENEW_TOKEN_TIME: seconds before expiry to renew
//   - APIBUILDER_STORAGE_DRIVER: memory, file, redis, sqlite or keyring
//   - APIBUILDER_STORAGE_PATH: file/sqlite path or keyring directory
//   - APIBUILDER_REDIS_ADDR, APIBUILDER_REDIS_PASSWORD, APIBUILDER_REDIS_DB
//   - APIBUILDER_KEYRING_PASSWORD: passphrase of the file keyring
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppName names the per-user configuration directory.
const AppName = "api-builder"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APIBUILDER_"

// Storage drivers.
const (
	DriverMemory  = "memory"
	DriverFile    = "file"
	DriverRedis   = "redis"
	DriverSQLite  = "sqlite"
	DriverKeyring = "keyring"
)

// Config is the full tool configuration.
type Config struct {
	Host       string            `yaml:"host"`
	Path       string            `yaml:"path"`
	QueueLimit int               `yaml:"queue_limit"`
	Timeout    time.Duration     `yaml:"timeout"`
	Headers    map[string]string `yaml:"headers"`
	Query      map[string]string `yaml:"query"`
	LogLevel   string            `yaml:"log_level"`
	RateLimit  RateLimit         `yaml:"rate_limit"`
	OAuth      OAuth             `yaml:"oauth"`
	Storage    Storage           `yaml:"storage"`
}

// RateLimit paces dispatched requests. Zero RPS disables pacing.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// OAuth configures the identity. It is disabled while LoginPath is empty.
type OAuth struct {
	LoginPath      string            `yaml:"login_path"`
	LogoutPath     string            `yaml:"logout_path"`
	Headers        map[string]string `yaml:"headers"`
	RenewTokenTime int               `yaml:"renew_token_time"`
	DisableRenewal bool              `yaml:"disable_renewal"`
	RenewalFailure string            `yaml:"renewal_failure"` // keep or logout
	StorageKey     string            `yaml:"storage_key"`
	CircuitBreaker bool              `yaml:"circuit_breaker"`
}

// Storage selects where credentials are persisted.
type Storage struct {
	Driver string `yaml:"driver"`
	// Path is the file for the file and sqlite drivers and the directory of
	// the encrypted file keyring.
	Path    string  `yaml:"path"`
	Redis   Redis   `yaml:"redis"`
	Keyring Keyring `yaml:"keyring"`
}

// Redis holds the redis driver settings.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Keyring holds the keyring driver settings.
type Keyring struct {
	Service string `yaml:"service"`
	// Backend is "system" (default) or "file".
	Backend  string `yaml:"backend"`
	Password string `yaml:"password"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		QueueLimit: 5,
		Timeout:    30 * time.Second,
		LogLevel:   "info",
		OAuth: OAuth{
			RenewTokenTime: 120,
			RenewalFailure: "keep",
		},
		Storage: Storage{
			Driver: DriverFile,
			Redis:  Redis{Addr: "localhost:6379"},
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Host, "HOST")
	setString(&c.Path, "PATH")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.OAuth.LoginPath, "LOGIN_PATH")
	setString(&c.OAuth.LogoutPath, "LOGOUT_PATH")
	setString(&c.Storage.Driver, "STORAGE_DRIVER")
	setString(&c.Storage.Path, "STORAGE_PATH")
	setString(&c.Storage.Redis.Addr, "REDIS_ADDR")
	setString(&c.Storage.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Storage.Keyring.Password, "KEYRING_PASSWORD")

	return errors.Join(
		setInt(&c.QueueLimit, "QUEUE_LIMIT"),
		setInt(&c.OAuth.RenewTokenTime, "RENEW_TOKEN_TIME"),
		setInt(&c.Storage.Redis.DB, "REDIS_DB"),
		setDuration(&c.Timeout, "TIMEOUT"),
	)
}

func setString(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	} else if u, err := url.Parse(c.Host); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("host %q must be an http or https URL", c.Host))
	}
	if c.QueueLimit < 0 {
		errs = append(errs, fmt.Errorf("queue_limit must not be negative, got %d", c.QueueLimit))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.rps must not be negative, got %v", c.RateLimit.RPS))
	}

	if c.IdentityEnabled() {
		if c.OAuth.LogoutPath == "" {
			errs = append(errs, errors.New("oauth.logout_path is required with oauth.login_path"))
		}
		if c.OAuth.RenewTokenTime < 0 {
			errs = append(errs, fmt.Errorf("oauth.renew_token_time must not be negative, got %d", c.OAuth.RenewTokenTime))
		}
		switch c.OAuth.RenewalFailure {
		case "", "keep", "logout":
		default:
			errs = append(errs, fmt.Errorf("oauth.renewal_failure must be keep or logout, got %q", c.OAuth.RenewalFailure))
		}
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverFile, DriverSQLite:
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for the redis driver"))
		}
	case DriverKeyring:
		switch c.Storage.Keyring.Backend {
		case "", "system":
		case "file":
			if c.Storage.Keyring.Password == "" {
				errs = append(errs, errors.New("storage.keyring.password is required for the file keyring"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.keyring.backend must be system or file, got %q", c.Storage.Keyring.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
}

// IdentityEnabled reports whether an OAuth identity is configured.
func (c *Config) IdentityEnabled() bool {
	return c.OAuth.LoginPath != ""
}

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, AppName), nil
}

// storagePath returns the configured path or a default under Dir.
func (c *Config) storagePath(name string) (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", fmt.Errorf("config: locate config dir: %w", err)
	}
	return filepath.Join(dir, name), nil
}
