package store

import (
	"context"

	"github.com/appfold/sessionbridge/platform"
)

// AuthenticatedStore wraps a CredentialStore so that reads of protected keys
// require device biometric or credential approval first. Writes and deletes
// pass through unchanged.
type AuthenticatedStore struct {
	CredentialStore

	prompter  platform.BiometricPrompter
	protected map[Key]bool
}

// NewAuthenticatedStore wraps inner, gating reads of the given keys behind
// the prompter. With no keys specified, the refresh token is protected.
func NewAuthenticatedStore(inner CredentialStore, prompter platform.BiometricPrompter, keys ...Key) *AuthenticatedStore {
	if len(keys) == 0 {
		keys = []Key{KeyRefreshToken}
	}
	protected := make(map[Key]bool, len(keys))
	for _, k := range keys {
		protected[k] = true
	}
	return &AuthenticatedStore{
		CredentialStore: inner,
		prompter:        prompter,
		protected:       protected,
	}
}

// GetAuthenticated reads a value, first requiring the user to satisfy the
// device prompt when the key is protected. The prompt failure is returned
// unwrapped so callers can classify it.
func (s *AuthenticatedStore) GetAuthenticated(ctx context.Context, key Key) (string, error) {
	if s.protected[key] {
		if err := s.prompter.Authenticate(ctx, "unlock stored credential"); err != nil {
			return "", err
		}
	}
	return s.CredentialStore.Get(ctx, key)
}
