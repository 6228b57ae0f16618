package domain

import "time"

// Session is the authoritative in-memory authentication state. It is owned
// and mutated exclusively by the session manager; all other components see
// copies.
type Session struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	User         *User     `json:"user,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`

	// HasStoredSession is true iff a refresh token is persisted in the
	// credential store.
	HasStoredSession bool `json:"has_stored_session"`

	// PINEnabled mirrors the server-side PIN registration for this device.
	// The PIN itself is never stored client-side.
	PINEnabled bool `json:"pin_enabled"`
}

// IsAuthenticated reports whether the session carries an access token.
func (s Session) IsAuthenticated() bool {
	return s.AccessToken != ""
}

// IsExpired reports whether the access token expiry has passed. A zero
// expiry is treated as not expired; the server remains the authority.
func (s Session) IsExpired() bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(s.ExpiresAt)
}

// Clear resets the session to its empty state.
func (s *Session) Clear() {
	*s = Session{}
}

// User identifies the authenticated account.
type User struct {
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
}
