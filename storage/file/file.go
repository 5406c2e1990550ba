// Package file provides a file-backed storage backend with 0600
// permissions and atomic replacement.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oakauth/oauthclient/storage"
)

// Store persists the state document in a single file. Writes go through a
// temporary file in the same directory followed by a rename, so a crash
// mid-write never leaves a truncated document behind.
type Store struct {
	path string
}

// New creates a store backed by the given path. The parent directory must
// exist.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("path must not be empty")
	}
	return &Store{path: path}, nil
}

// Read returns the stored document, or storage.ErrNoState when the file
// does not exist.
func (s *Store) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, storage.ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return data, nil
}

// Write replaces the stored document.
func (s *Store) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("restricting %s: %w", tmpPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the stored document.
func (s *Store) Clear(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", s.path, err)
	}
	return nil
}
