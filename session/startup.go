package session

import (
	"context"
	"fmt"
	"time"

	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/errors"
	"github.com/appfold/sessionbridge/store"
)

// Phase is a startup state machine state. Transitions are strictly forward;
// complete, timeout and error are terminal.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseDevice     Phase = "device"
	PhaseTokens     Phase = "tokens"
	PhaseValidating Phase = "validating"
	PhaseComplete   Phase = "complete"
	PhaseTimeout    Phase = "timeout"
	PhaseError      Phase = "error"
)

// Terminal reports whether p ends the startup sequence.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseTimeout || p == PhaseError
}

// setPhase advances the state machine. Terminal states never regress.
func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase.Terminal() {
		return
	}
	m.phase = p
}

// finish moves the machine to a terminal state. Idempotent: the ready flag
// flips true exactly once and the completion side effects never re-run,
// even when natural completion races the watchdog.
func (m *Manager) finish(ctx context.Context, p Phase, detail string) {
	m.mu.Lock()
	if m.ready {
		m.mu.Unlock()
		return
	}
	m.ready = true
	m.phase = p
	onReady := m.onReady
	close(m.readyCh)
	m.mu.Unlock()

	fields := map[string]interface{}{"phase": string(p)}
	if detail != "" {
		fields["detail"] = detail
	}
	m.logger.Info(ctx, "startup sequence finished", fields)

	if onReady != nil {
		onReady(p)
	}
}

// Start runs the startup sequence: obtain the device identity, read the
// persisted tokens, validate or refresh them against the server, and
// broadcast the resulting state. It blocks until a terminal state and
// returns the phase reached. Calling Start again after a terminal state is
// a no-op.
func (m *Manager) Start(ctx context.Context) Phase {
	m.mu.Lock()
	if m.phase != PhaseStarting {
		current := m.phase
		m.mu.Unlock()
		return current
	}
	m.phase = PhaseDevice
	m.mu.Unlock()

	// The watchdog forces a terminal state without canceling in-flight
	// I/O; late results are applied opportunistically by applyTokens.
	watchdog := time.AfterFunc(m.opts.Watchdog, func() {
		m.finish(context.Background(), PhaseTimeout, "startup validation timed out")
	})
	defer watchdog.Stop()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(ctx, "startup sequence panicked", fmt.Errorf("%v", r))
			m.clearPersisted(ctx)
			m.mu.Lock()
			m.session.Clear()
			m.mu.Unlock()
			m.finish(ctx, PhaseError, fmt.Sprintf("%v", r))
		}
	}()

	// device: identity failures substitute a fallback, never fatal.
	ident := m.identity.Get(ctx)

	// tokens: each read failure defaults that value to absent.
	m.setPhase(PhaseTokens)
	refreshToken := m.readStored(ctx, store.KeyRefreshToken)
	accessToken := m.readStored(ctx, store.KeyAccessToken)
	pinEnabled := m.readStored(ctx, store.KeyPINEnabled) == "true"

	m.mu.Lock()
	m.session.HasStoredSession = refreshToken != ""
	m.session.PINEnabled = pinEnabled
	m.session.RefreshToken = refreshToken
	m.mu.Unlock()

	// validating: at most one check and one refresh per attempt.
	m.setPhase(PhaseValidating)
	m.validate(ctx, ident, accessToken, refreshToken)

	m.finish(ctx, PhaseComplete, "")
	return m.Phase()
}

// validate runs the token validation branch shared by startup and
// foreground resume.
func (m *Manager) validate(ctx context.Context, ident domain.DeviceIdentity, accessToken, refreshToken string) {
	epoch := m.epoch()

	switch {
	case accessToken != "" && refreshToken != "":
		check, err := m.api.CheckToken(ctx, accessToken, ident.ID)
		if err != nil {
			m.logger.Warn(ctx, "token check failed, attempting refresh",
				map[string]interface{}{"error": err.Error()})
		} else if check.Valid {
			m.mu.Lock()
			if m.logoutEpoch != epoch {
				// A logout raced the check; the token is dead.
				m.mu.Unlock()
				return
			}
			m.session.AccessToken = accessToken
			m.session.ExpiresAt = check.ExpiresAt
			if m.session.User == nil && check.UserEmail != "" {
				m.session.User = &domain.User{Email: check.UserEmail}
			}
			m.session.HasStoredSession = true
			user := m.session.User
			m.mu.Unlock()
			m.broadcaster.BroadcastSetTokens(ctx, accessToken, ident.ID, user)
			return
		}
		m.refresh(ctx, epoch, ident, refreshToken)

	case refreshToken != "":
		m.refresh(ctx, epoch, ident, refreshToken)

	default:
		// Neither token present: no network call, session stays empty.
	}
}

// refresh exchanges the refresh token, forcing a full local logout when the
// server rejects it.
func (m *Manager) refresh(ctx context.Context, epoch uint64, ident domain.DeviceIdentity, refreshToken string) {
	ts, err := m.api.RefreshToken(ctx, refreshToken, ident.ID)
	if err != nil {
		if errors.Is(err, errors.ErrRefreshTokenInvalid) {
			m.logger.Info(ctx, "refresh token rejected, forcing local logout")
			m.forceLogout(ctx, "refresh token invalid")
			return
		}
		// Transport or server trouble: keep whatever state we have, the
		// next foreground resume retries.
		m.logger.Warn(ctx, "token refresh failed",
			map[string]interface{}{"error": err.Error()})
		return
	}
	m.applyTokens(ctx, epoch, ts, ident.ID)
}

// HandleForeground re-runs the validation branch after the process returns
// to the foreground, catching tokens that expired while backgrounded. It is
// a no-op until startup has completed once.
func (m *Manager) HandleForeground(ctx context.Context) {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()
	if !ready {
		return
	}

	ident := m.identity.Get(ctx)
	refreshToken := m.readStored(ctx, store.KeyRefreshToken)
	accessToken := m.readStored(ctx, store.KeyAccessToken)
	if refreshToken == "" && accessToken == "" {
		return
	}
	m.validate(ctx, ident, accessToken, refreshToken)
}
