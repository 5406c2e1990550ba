// Package storage persists serialized authorization state between runs.
// Backends implement the byte-oriented Store; StateStore layers auth state
// handling, encryption and corruption recovery on top.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oakauth/oauthclient"
	"github.com/oakauth/oauthclient/security"
)

// ErrNoState is returned by Store.Read when nothing has been written yet.
var ErrNoState = errors.New("storage: no state present")

// Store holds a single serialized authorization state document. Backends
// include in-memory and file-backed stores; all methods accept a context
// for cancellation.
type Store interface {
	// Read returns the stored document, or ErrNoState.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the stored document.
	Write(ctx context.Context, data []byte) error

	// Clear removes the stored document. Clearing an empty store is not
	// an error.
	Clear(ctx context.Context) error
}

// StateStore reads and writes AuthState documents through a Store,
// optionally encrypting them at rest. A document that fails to decode
// reads as a fresh empty state rather than an error, so a corrupted file
// can never lock a user out of re-authorizing.
type StateStore struct {
	store     Store
	encryptor *security.Encryptor
	logger    *slog.Logger
}

// StateStoreOptions configures a StateStore.
type StateStoreOptions struct {
	// Encryptor encrypts documents at rest. Nil means plaintext.
	Encryptor *security.Encryptor

	// Logger receives warnings about discarded corrupt state. Defaults
	// to slog.Default().
	Logger *slog.Logger
}

// NewStateStore wraps a backend store.
func NewStateStore(store Store, opts StateStoreOptions) (*StateStore, error) {
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	encryptor := opts.Encryptor
	if encryptor == nil {
		var err error
		encryptor, err = security.NewEncryptor(nil)
		if err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{store: store, encryptor: encryptor, logger: logger}, nil
}

// ReadState returns the persisted state, or a fresh empty state when
// nothing is stored or the stored document cannot be decoded.
func (s *StateStore) ReadState(ctx context.Context) (*oauthclient.AuthState, error) {
	data, err := s.store.Read(ctx)
	if errors.Is(err, ErrNoState) {
		return oauthclient.NewAuthState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading auth state: %w", err)
	}

	plaintext, err := s.encryptor.Decrypt(data)
	if err != nil {
		s.logger.Warn("stored auth state could not be decrypted, starting fresh", "error", err)
		return oauthclient.NewAuthState(), nil
	}

	state, err := oauthclient.DeserializeAuthState(plaintext)
	if err != nil {
		s.logger.Warn("stored auth state is corrupt, starting fresh", "error", err)
		return oauthclient.NewAuthState(), nil
	}
	return state, nil
}

// WriteState persists the state.
func (s *StateStore) WriteState(ctx context.Context, state *oauthclient.AuthState) error {
	if state == nil {
		return fmt.Errorf("state must not be nil")
	}
	data, err := state.Serialize()
	if err != nil {
		return fmt.Errorf("serializing auth state: %w", err)
	}
	ciphertext, err := s.encryptor.Encrypt(data)
	if err != nil {
		return fmt.Errorf("encrypting auth state: %w", err)
	}
	if err := s.store.Write(ctx, ciphertext); err != nil {
		return fmt.Errorf("writing auth state: %w", err)
	}
	return nil
}

// ClearState removes the persisted state.
func (s *StateStore) ClearState(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing auth state: %w", err)
	}
	return nil
}
