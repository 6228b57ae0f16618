package session

import (
	"context"

	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/errors"
	"github.com/appfold/sessionbridge/internal/crypto"
	"github.com/appfold/sessionbridge/store"
)

// PINLogin validates and hashes the PIN client-side, exchanges it with the
// server, and installs the resulting session. Errors never propagate past
// this boundary; callers always receive a LoginResult.
func (m *Manager) PINLogin(ctx context.Context, pin string) domain.LoginResult {
	if err := m.pinLogin(ctx, pin); err != nil {
		return domain.LoginResult{Success: false, Error: humanize(err)}
	}
	session := m.Session()
	return domain.LoginResult{Success: true, Session: &session}
}

func (m *Manager) pinLogin(ctx context.Context, pin string) error {
	if err := crypto.ValidatePIN(pin); err != nil {
		return err
	}
	hashed, err := crypto.HashPIN(pin)
	if err != nil {
		// Fail closed: the PIN is never transmitted in a weaker form.
		return errors.ErrPINHashUnavailable
	}

	ident := m.identity.Get(ctx)
	epoch := m.epoch()

	ts, err := m.api.PINLogin(ctx, ident.ID, hashed, ident.Platform)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.session.PINEnabled = true
	m.mu.Unlock()
	if err := m.store.Set(ctx, store.KeyPINEnabled, "true"); err != nil {
		m.logger.Warn(ctx, "pin flag persist failed",
			map[string]interface{}{"error": err.Error()})
	}

	m.applyTokens(ctx, epoch, ts, ident.ID)
	return nil
}

// BiometricLogin checks the device's registered login options, requests
// platform biometric approval, and only then asks the server for tokens.
// The platform prompt is never shown for a device with no registered
// passkey credential.
func (m *Manager) BiometricLogin(ctx context.Context) domain.LoginResult {
	if err := m.biometricLogin(ctx); err != nil {
		return domain.LoginResult{Success: false, Error: humanize(err)}
	}
	session := m.Session()
	return domain.LoginResult{Success: true, Session: &session}
}

func (m *Manager) biometricLogin(ctx context.Context) error {
	ident := m.identity.Get(ctx)

	options, err := m.api.LoginOptionsByDevice(ctx, ident.ID)
	if err != nil {
		return err
	}
	if !options.HasPasskey {
		return errors.NewPlatformError(errors.ReasonNotEnrolled,
			"no biometric credential is registered for this device")
	}

	if err := m.prompter.Authenticate(ctx, "log in to your account"); err != nil {
		return err
	}

	epoch := m.epoch()
	ts, err := m.api.BiometricLogin(ctx, ident.ID, ident.Platform)
	if err != nil {
		return err
	}
	m.applyTokens(ctx, epoch, ts, ident.ID)
	return nil
}

// CompleteLogin is the generic completion path used when login happened
// inside embedded web content: the page already completed the server round
// trip, so this persists and installs state without calling any login
// endpoint.
func (m *Manager) CompleteLogin(ctx context.Context, refreshToken string, user *domain.User, accessToken string) domain.LoginResult {
	if refreshToken == "" {
		return domain.LoginResult{Success: false, Error: "missing refresh token"}
	}

	ident := m.identity.Get(ctx)
	epoch := m.epoch()
	ts := &domain.TokenSet{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}
	if !m.applyTokens(ctx, epoch, ts, ident.ID) {
		return domain.LoginResult{Success: false, Error: "login superseded by logout"}
	}
	session := m.Session()
	return domain.LoginResult{Success: true, Session: &session}
}

// SetPIN registers a PIN for the account on this device. The PIN is
// validated and hashed client-side; it is never persisted locally in any
// form.
func (m *Manager) SetPIN(ctx context.Context, email, pin string) domain.LoginResult {
	if err := crypto.ValidatePIN(pin); err != nil {
		return domain.LoginResult{Success: false, Error: humanize(err)}
	}
	hashed, err := crypto.HashPIN(pin)
	if err != nil {
		return domain.LoginResult{Success: false, Error: humanize(errors.ErrPINHashUnavailable)}
	}

	ident := m.identity.Get(ctx)
	if _, err := m.api.SetPIN(ctx, email, hashed, ident.ID, ident.Platform); err != nil {
		return domain.LoginResult{Success: false, Error: humanize(err)}
	}

	m.mu.Lock()
	m.session.PINEnabled = true
	m.mu.Unlock()
	if err := m.store.Set(ctx, store.KeyPINEnabled, "true"); err != nil {
		m.logger.Warn(ctx, "pin flag persist failed",
			map[string]interface{}{"error": err.Error()})
	}
	session := m.Session()
	return domain.LoginResult{Success: true, Session: &session}
}

// humanize folds the error taxonomy into the message surfaced to users.
func humanize(err error) string {
	var validation *errors.ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}

	var platformErr *errors.PlatformError
	if errors.As(err, &platformErr) {
		switch platformErr.Reason {
		case errors.ReasonNoHardware:
			return "biometric hardware is not available on this device"
		case errors.ReasonNotEnrolled:
			if platformErr.Message != "" {
				return platformErr.Message
			}
			return "no biometric credential is enrolled on this device"
		case errors.ReasonCanceled:
			return "authentication was canceled"
		default:
			return "biometric authentication failed"
		}
	}

	switch {
	case errors.Is(err, errors.ErrPINHashUnavailable):
		return "secure PIN processing is unavailable, please try again later"
	case errors.IsInvalidCredentials(err):
		return "incorrect PIN"
	case errors.IsNotFound(err):
		return "PIN login is not set up on this device"
	case errors.Is(err, errors.ErrRefreshTokenInvalid):
		return "your session has expired, please log in again"
	}

	var transport *errors.TransportError
	if errors.As(err, &transport) {
		return "network error, please check your connection and try again"
	}

	var apiErr *errors.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
