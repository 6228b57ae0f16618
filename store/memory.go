package store

import (
	"context"
	"sync"

	"github.com/appfold/sessionbridge/errors"
)

// MemoryStore is an in-memory CredentialStore for tests and ephemeral
// deployments. Nothing survives process exit.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[Key]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[Key]string)}
}

// Get implements CredentialStore.Get.
func (s *MemoryStore) Get(_ context.Context, key Key) (string, error) {
	if !key.Valid() {
		return "", errors.NewValidationError("key", string(key))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return "", errors.ErrNotFound
	}
	return value, nil
}

// Set implements CredentialStore.Set.
func (s *MemoryStore) Set(_ context.Context, key Key, value string) error {
	if !key.Valid() {
		return errors.NewValidationError("key", string(key))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Delete implements CredentialStore.Delete. Deleting an absent key is not an
// error.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	if !key.Valid() {
		return errors.NewValidationError("key", string(key))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}
