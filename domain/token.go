package domain

import "time"

// TokenSet is the payload returned by every successful login or refresh.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user,omitempty"`
}

// CheckResult is the outcome of a server-side access token validation.
// Invalidity is a normal value here, never an error.
type CheckResult struct {
	Valid         bool      `json:"valid"`
	UserEmail     string    `json:"user_email,omitempty"`
	TokenDeviceID string    `json:"token_device_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

// LoginOptions describes which device-bound login methods the server has
// registered for a device.
type LoginOptions struct {
	HasPIN     bool `json:"has_pin"`
	HasPasskey bool `json:"has_passkey"`
}

// LoginResult is the shape every login and logout operation returns to its
// caller. Errors never propagate past the session manager boundary; they are
// folded into Error as a human-readable cause.
type LoginResult struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Session *Session `json:"session,omitempty"`
}

// Millis converts an epoch-milliseconds wire value to a time.Time. Zero maps
// to the zero time.
func Millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ToMillis converts a time.Time to epoch milliseconds for the wire. The zero
// time maps to zero.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
