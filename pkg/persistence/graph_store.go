// Package persistence stores aggregated transition graphs on disk so that
// later runs, and other tools, can reuse them without recomputing.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound indicates no record exists at the store path.
	ErrNotFound = errors.New("graph record not found")

	// ErrCorrupt indicates the record exists but cannot be decoded.
	// Callers usually recover by recomputing from source.
	ErrCorrupt = errors.New("graph record is corrupt")
)

// GraphStore manages a single JSON record file.
//
// Writes go to a temporary file in the same directory which is synced and
// then renamed over the target, so readers never see a partial record.
type GraphStore struct {
	path string
}

// NewGraphStore returns a store backed by path. Nothing is touched on disk
// until Save.
func NewGraphStore(path string) *GraphStore {
	return &GraphStore{path: path}
}

// Path returns the record path.
func (s *GraphStore) Path() string {
	return s.path
}

// Exists reports whether a record file is present. It says nothing about
// whether the record is valid or fresh.
func (s *GraphStore) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && info.Mode().IsRegular()
}

// Save atomically replaces the record.
func (s *GraphStore) Save(r Record) error {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode graph record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp record: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace graph record: %w", err)
	}
	return nil
}

// Load reads the record. Missing files yield ErrNotFound, undecodable ones
// ErrCorrupt; both are wrapped with the path.
func (s *GraphStore) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return Record{}, fmt.Errorf("failed to read graph record: %w", err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if _, err := r.Graph(); err != nil {
		return Record{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return r, nil
}
