package store

import "context"

// Key identifies one of the closed set of persisted credentials.
type Key string

const (
	KeyRefreshToken Key = "refresh_token"
	KeyAccessToken  Key = "access_token"
	KeyPINEnabled   Key = "pin_enabled"
	KeyLastEmail    Key = "last_email"
	KeyDeviceID     Key = "device_id"
)

// Keys lists every valid credential key.
func Keys() []Key {
	return []Key{KeyRefreshToken, KeyAccessToken, KeyPINEnabled, KeyLastEmail, KeyDeviceID}
}

// Valid reports whether k is a member of the closed key set.
func (k Key) Valid() bool {
	switch k {
	case KeyRefreshToken, KeyAccessToken, KeyPINEnabled, KeyLastEmail, KeyDeviceID:
		return true
	}
	return false
}

// CredentialStore persists a small set of long-lived secrets. Absence is
// reported as errors.ErrNotFound; I/O failure wraps
// errors.ErrStorageUnavailable and is surfaced to the caller, never
// swallowed at this layer.
type CredentialStore interface {
	Get(ctx context.Context, key Key) (string, error)
	Set(ctx context.Context, key Key, value string) error
	Delete(ctx context.Context, key Key) error
}

// AuthenticatedReader is the optional store extension whose reads require
// the user to satisfy a device biometric or credential prompt first. Used
// for device-risky secrets such as the refresh token.
type AuthenticatedReader interface {
	GetAuthenticated(ctx context.Context, key Key) (string, error)
}
