package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File stores all keys in a single JSON object on disk. Writes go to a
// temporary file that is renamed over the target, so a crash never leaves a
// truncated file behind.
type File struct {
	path string
	mu   sync.Mutex
}

var _ Storage = (*File)(nil)

// NewFile returns a File store at path. The parent directory is created on
// the first write.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil {
		return "", &Error{Backend: "file", Op: "get", Key: key, Err: err}
	}
	v, ok := data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil {
		return &Error{Backend: "file", Op: "set", Key: key, Err: err}
	}
	data[key] = value
	if err := f.write(data); err != nil {
		return &Error{Backend: "file", Op: "set", Key: key, Err: err}
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil {
		return &Error{Backend: "file", Op: "delete", Key: key, Err: err}
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	if err := f.write(data); err != nil {
		return &Error{Backend: "file", Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (f *File) read() (map[string]string, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	data := make(map[string]string)
	if len(b) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return data, nil
}

func (f *File) write(data map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	b = append(b, '\n')

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
