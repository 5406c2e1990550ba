// Package memory provides an in-memory storage backend, suitable for tests
// and for applications that manage persistence themselves.
package memory

import (
	"context"
	"sync"

	"github.com/oakauth/oauthclient/storage"
)

// Store is an in-memory single-slot store. The zero value is ready to use.
type Store struct {
	mu   sync.RWMutex
	data []byte
	set  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Read returns the stored document, or storage.ErrNoState.
func (s *Store) Read(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return nil, storage.ErrNoState
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

// Write replaces the stored document.
func (s *Store) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make([]byte, len(data))
	copy(s.data, data)
	s.set = true
	return nil
}

// Clear removes the stored document.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	s.set = false
	return nil
}
