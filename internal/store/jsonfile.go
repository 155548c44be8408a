// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrIO wraps every persistence read or write failure.
var ErrIO = errors.New("store i/o failure")

// JSONFile is a whole-file JSON document guarded by a mutex.
// Every read decodes the full file and every write replaces it.
type JSONFile[T any] struct {
	mu    sync.Mutex
	path  string
	empty func() T
}

// NewJSONFile returns a document stored at path. The empty function
// provides the value used when the file does not exist.
func NewJSONFile[T any](path string, empty func() T) *JSONFile[T] {
	return &JSONFile[T]{path: path, empty: empty}
}

// Path returns the file location.
func (f *JSONFile[T]) Path() string {
	return f.path
}

// Ensure creates the file with the empty value if it does not exist.
func (f *JSONFile[T]) Ensure() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to stat %s: %w", ErrIO, f.path, err)
	}
	return f.writeLocked(f.empty())
}

// Read decodes the current document.
func (f *JSONFile[T]) Read() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

// Write replaces the document.
func (f *JSONFile[T]) Write(v T) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(v)
}

// Update runs fn on the current document and persists the result when
// fn reports a change. The read, the mutation and the write happen
// under one lock.
func (f *JSONFile[T]) Update(fn func(v *T) (bool, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, err := f.readLocked()
	if err != nil {
		return err
	}
	changed, err := fn(&v)
	if err != nil || !changed {
		return err
	}
	return f.writeLocked(v)
}

func (f *JSONFile[T]) readLocked() (T, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return f.empty(), nil
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: failed to read %s: %w", ErrIO, f.path, err)
	}
	v := f.empty()
	if err := json.Unmarshal(b, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: failed to decode %s: %w", ErrIO, f.path, err)
	}
	return v, nil
}

// writeLocked writes to a temporary file in the same directory and
// renames it over the target so readers never see a partial document.
func (f *JSONFile[T]) writeLocked(v T) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode %s: %w", ErrIO, f.path, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %w", ErrIO, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file for %s: %w", ErrIO, f.path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: failed to write %s: %w", ErrIO, f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to write %s: %w", ErrIO, f.path, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("%w: failed to replace %s: %w", ErrIO, f.path, err)
	}
	return nil
}
