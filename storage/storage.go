// Package storage provides durable key-value backends used by the identity
// manager to persist credentials between process runs.
//
// Every backend stores opaque string values under string keys. Missing keys
// are reported with ErrNotFound so callers can tell "nothing stored" apart
// from a failing backend.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("storage: key not found")

// Storage is a durable string key-value store.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Error describes a failed backend operation.
type Error struct {
	Backend string // "file", "redis", "sqlite", "keyring"
	Op      string // "get", "set", "delete"
	Key     string
	Err     error
}

func (e *Error) Error() string {
	msg := "storage: " + e.Backend + " " + e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
