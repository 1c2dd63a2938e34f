// Package cache persists small string-keyed lookup results as flat JSON
// documents. Instances are plain objects handed to whoever needs them, with
// an explicit load-at-start / save-at-end lifecycle; there is no ambient
// global cache anywhere in the program.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// File is an in-memory map backed by one JSON file. It is not safe for
// concurrent writers; the pipeline mutates it only from the sequential
// reconciliation phase.
type File[T any] struct {
	path    string
	entries map[string]T
	dirty   bool
}

// New returns an empty cache that will save to path.
func New[T any](path string) *File[T] {
	return &File[T]{path: path, entries: make(map[string]T)}
}

// Open loads the cache at path. A missing file yields an empty cache; a
// malformed one is an error so the caller can decide to warn and start fresh.
func Open[T any](path string) (*File[T], error) {
	c := New[T](path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return New[T](path), fmt.Errorf("parsing cache %s: %w", path, err)
	}
	return c, nil
}

// Get returns the cached value for key.
func (c *File[T]) Get(key string) (T, bool) {
	v, ok := c.entries[key]
	return v, ok
}

// Put stores a value and marks the cache dirty.
func (c *File[T]) Put(key string, v T) {
	c.entries[key] = v
	c.dirty = true
}

// Len reports the number of cached entries.
func (c *File[T]) Len() int { return len(c.entries) }

// Save writes the cache back to its file when anything changed. The write is
// atomic-by-replacement so a crash never leaves a truncated cache behind.
func (c *File[T]) Save() error {
	if !c.dirty {
		return nil
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replacing cache: %w", err)
	}
	c.dirty = false
	return nil
}
