// Package snapshot persists a full serialized copy of the tree to a
// secondary disk location, so a restart (or a sibling process in read mode)
// can come up without touching the relational store.
//
// Validity is presence plus non-zero length — there is no version header. A
// snapshot that fails to parse is deleted on the spot; the caller falls back
// to the relational path. All I/O on the snapshot location goes through one
// mutual-exclusion scope, separate from the tree lock, so memory reads are
// never serialized behind disk writes.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/pubtree/tree"
)

// Store owns the snapshot file.
type Store struct {
	path   string
	logger *slog.Logger

	// sem is a one-slot semaphore guarding the file: Lock blocks, Acquire
	// suspends until available or ctx expires.
	sem chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store for the snapshot file at path.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path, logger: slog.Default(), sem: make(chan struct{}, 1)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Lock takes the snapshot I/O scope, blocking until available.
func (s *Store) Lock() func() {
	s.sem <- struct{}{}
	return func() { <-s.sem }
}

// Acquire takes the snapshot I/O scope, suspending until it is available or
// ctx expires.
func (s *Store) Acquire(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Exists reports whether a non-empty snapshot file is present.
func (s *Store) Exists() bool {
	fi, err := os.Stat(s.path)
	return err == nil && fi.Size() > 0
}

// ModTime returns the snapshot's last-write time. ok is false when no
// snapshot exists.
func (s *Store) ModTime() (mtime time.Time, ok bool) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, false
	}
	return fi.ModTime(), true
}

// Save writes the tree to disk: delete any existing snapshot, ensure the
// directory exists, write the new file. On any failure the partial file is
// deleted rather than left corrupt.
func (s *Store) Save(t *tree.Tree) error {
	unlock := s.Lock()
	defer unlock()
	return s.save(t)
}

func (s *Store) save(t *tree.Tree) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("snapshot: remove old: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		os.Remove(s.path)
		return fmt.Errorf("snapshot: write: %w", err)
	}
	s.logger.Debug("snapshot: written", "path", s.path, "bytes", len(data))
	return nil
}

// Load reads the snapshot. It returns nil, nil when no snapshot exists or
// the file is empty. A file that fails to parse is deleted and an error
// returned; callers fall back to the relational path.
func (s *Store) Load() (*tree.Tree, error) {
	unlock := s.Lock()
	defer unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}
	if len(data) == 0 {
		os.Remove(s.path)
		return nil, nil
	}

	t := tree.New()
	if err := json.Unmarshal(data, t); err != nil {
		os.Remove(s.path)
		return nil, fmt.Errorf("snapshot: corrupt, deleted: %w", err)
	}
	return t, nil
}

// Delete removes the snapshot file if present.
func (s *Store) Delete() error {
	unlock := s.Lock()
	defer unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
