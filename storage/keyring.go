package storage

import (
	"context"
	"errors"
	"io/fs"

	"github.com/99designs/keyring"
)

// DefaultKeyringService is the service name used when opening the OS keyring.
const DefaultKeyringService = "api-builder"

// Keyring stores values in the operating system keychain (or any
// keyring.Keyring, such as the encrypted file backend).
type Keyring struct {
	ring keyring.Keyring
}

var _ Storage = (*Keyring)(nil)

// NewKeyring wraps an opened keyring.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

// OpenKeyring opens a keyring for service. When fileDir is set the encrypted
// file backend is allowed as a fallback, unlocked with password.
func OpenKeyring(service, fileDir, password string) (*Keyring, error) {
	if service == "" {
		service = DefaultKeyringService
	}
	cfg := keyring.Config{
		ServiceName: service,
		FileDir:     fileDir,
		FilePasswordFunc: func(string) (string, error) {
			return password, nil
		},
	}
	return openKeyring(cfg)
}

// OpenFileKeyring opens only the encrypted file backend in dir, for hosts
// without a usable system keychain.
func OpenFileKeyring(service, dir, password string) (*Keyring, error) {
	if service == "" {
		service = DefaultKeyringService
	}
	return openKeyring(keyring.Config{
		ServiceName:     service,
		AllowedBackends: []keyring.BackendType{keyring.FileBackend},
		FileDir:         dir,
		FilePasswordFunc: func(string) (string, error) {
			return password, nil
		},
	})
}

func openKeyring(cfg keyring.Config) (*Keyring, error) {
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, &Error{Backend: "keyring", Op: "open", Err: err}
	}
	return NewKeyring(ring), nil
}

func (k *Keyring) Get(_ context.Context, key string) (string, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", &Error{Backend: "keyring", Op: "get", Key: key, Err: err}
	}
	return string(item.Data), nil
}

func (k *Keyring) Set(_ context.Context, key, value string) error {
	err := k.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: DefaultKeyringService + " " + key,
	})
	if err != nil {
		return &Error{Backend: "keyring", Op: "set", Key: key, Err: err}
	}
	return nil
}

func (k *Keyring) Delete(_ context.Context, key string) error {
	err := k.ring.Remove(key)
	// The file backend reports a missing key as a missing file.
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Backend: "keyring", Op: "delete", Key: key, Err: err}
	}
	return nil
}
