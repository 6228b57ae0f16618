// Package session implements the authentication session manager: startup
// session restoration, token validation and refresh, the login flows,
// logout, and token propagation into embedded web content.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/appfold/sessionbridge/bridge"
	"github.com/appfold/sessionbridge/device"
	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/errors"
	"github.com/appfold/sessionbridge/log"
	"github.com/appfold/sessionbridge/platform"
	"github.com/appfold/sessionbridge/store"
	"github.com/appfold/sessionbridge/webview"
)

// AuthAPI is the slice of the remote auth client the manager consumes.
// *authclient.Client satisfies it.
type AuthAPI interface {
	PINLogin(ctx context.Context, deviceID, hashedPIN, platform string) (*domain.TokenSet, error)
	BiometricLogin(ctx context.Context, deviceID, platform string) (*domain.TokenSet, error)
	CheckToken(ctx context.Context, accessToken, deviceID string) (*domain.CheckResult, error)
	RefreshToken(ctx context.Context, refreshToken, deviceID string) (*domain.TokenSet, error)
	LoginOptionsByDevice(ctx context.Context, deviceID string) (*domain.LoginOptions, error)
	Logout(ctx context.Context, refreshToken, deviceID string) error
	SetPIN(ctx context.Context, email, hashedPIN, deviceID, platform string) (string, error)
}

// ContentBroadcaster is the slice of the WebView broadcaster the manager
// consumes. *webview.Broadcaster satisfies it.
type ContentBroadcaster interface {
	BroadcastSetTokens(ctx context.Context, accessToken, deviceID string, user *domain.User)
	BroadcastLogout(ctx context.Context, skipReload bool, reason string)
	Broadcast(ctx context.Context, env bridge.Envelope)
	SetReady(ctx context.Context)
	Reload(ctx context.Context)
	OnVerificationResult(fn func(webview.VerificationOutcome))
	ReportVerification(outcome webview.VerificationOutcome)
}

// Options carries the manager's tunables.
type Options struct {
	// Watchdog bounds the startup sequence. Zero selects 15s.
	Watchdog time.Duration
	// CoalesceWindow is the inbound message batching window. Zero selects 50ms.
	CoalesceWindow time.Duration
}

// Manager owns the in-memory Session and orchestrates every state change to
// it. No other component holds a writable reference.
type Manager struct {
	store       store.CredentialStore
	api         AuthAPI
	broadcaster ContentBroadcaster
	prompter    platform.BiometricPrompter
	identity    *device.Identity
	logger      log.Logger
	opts        Options

	collector *bridge.Collector
	pending   *PendingOps

	mu          sync.Mutex
	session     domain.Session
	phase       Phase
	ready       bool
	readyCh     chan struct{}
	logoutEpoch uint64
	onReady     func(Phase)

	setupMu       sync.Mutex
	onSetupNeeded func(domain.LoginOptions)
}

// NewManager wires a session manager. All collaborators are injected; the
// composition root owns construction.
func NewManager(
	credStore store.CredentialStore,
	api AuthAPI,
	broadcaster ContentBroadcaster,
	prompter platform.BiometricPrompter,
	identity *device.Identity,
	logger log.Logger,
	opts Options,
) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	if opts.Watchdog <= 0 {
		opts.Watchdog = 15 * time.Second
	}
	if opts.CoalesceWindow <= 0 {
		opts.CoalesceWindow = 50 * time.Millisecond
	}

	m := &Manager{
		store:       credStore,
		api:         api,
		broadcaster: broadcaster,
		prompter:    prompter,
		identity:    identity,
		logger:      logger,
		opts:        opts,
		phase:       PhaseStarting,
		readyCh:     make(chan struct{}),
		pending:     NewPendingOps(),
	}
	m.collector = bridge.NewCollector(opts.CoalesceWindow, m.processBatch)

	// Content-reported verification failures revoke local session state.
	broadcaster.OnVerificationResult(func(outcome webview.VerificationOutcome) {
		if outcome == webview.VerificationFailed || outcome == webview.VerificationError {
			m.forceLogout(context.Background(), "content token verification "+string(outcome))
		}
	})

	return m
}

// Session returns a copy of the current session state.
func (m *Manager) Session() domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Ready reports whether the startup sequence has reached a terminal state.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Phase returns the current startup phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// AwaitReady blocks until the startup sequence reaches a terminal state or
// the context is done.
func (m *Manager) AwaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetOnReady registers the callback fired exactly once when the startup
// sequence reaches a terminal state.
func (m *Manager) SetOnReady(fn func(Phase)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReady = fn
}

// SetOnSecuritySetupNeeded registers the callback fired when embedded
// content reports that device security setup is incomplete.
func (m *Manager) SetOnSecuritySetupNeeded(fn func(domain.LoginOptions)) {
	m.setupMu.Lock()
	defer m.setupMu.Unlock()
	m.onSetupNeeded = fn
}

// NotifyContentReady marks the message bridge ready, releasing any queued
// token broadcasts in FIFO order.
func (m *Manager) NotifyContentReady(ctx context.Context) {
	m.broadcaster.SetReady(ctx)
}

// Close releases background resources.
func (m *Manager) Close() {
	m.collector.Close()
	m.pending.CancelAll()
}

// epoch returns the current logout epoch. Writers capture it before slow
// I/O and pass it to applyTokens, which refuses to clobber a session that a
// later logout has cleared.
func (m *Manager) epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logoutEpoch
}

// applyTokens installs a token set into the session and persists and
// broadcasts it. It is a no-op when a logout happened after epoch was
// captured.
func (m *Manager) applyTokens(ctx context.Context, epoch uint64, ts *domain.TokenSet, deviceID string) bool {
	m.mu.Lock()
	if m.logoutEpoch != epoch {
		m.mu.Unlock()
		m.logger.Info(ctx, "discarding stale token result after logout")
		return false
	}
	m.session.AccessToken = ts.AccessToken
	if ts.RefreshToken != "" {
		m.session.RefreshToken = ts.RefreshToken
	}
	if ts.User != nil {
		m.session.User = ts.User
	}
	m.session.ExpiresAt = ts.ExpiresAt
	m.session.HasStoredSession = true
	user := m.session.User
	m.mu.Unlock()

	if ts.RefreshToken != "" {
		if err := m.store.Set(ctx, store.KeyRefreshToken, ts.RefreshToken); err != nil {
			m.logger.Warn(ctx, "refresh token persist failed",
				map[string]interface{}{"error": err.Error()})
		}
	}
	if err := m.store.Set(ctx, store.KeyAccessToken, ts.AccessToken); err != nil {
		m.logger.Warn(ctx, "access token persist failed",
			map[string]interface{}{"error": err.Error()})
	}
	if user != nil && user.Email != "" {
		if err := m.store.Set(ctx, store.KeyLastEmail, user.Email); err != nil {
			m.logger.Warn(ctx, "last email persist failed",
				map[string]interface{}{"error": err.Error()})
		}
	}

	m.broadcaster.BroadcastSetTokens(ctx, ts.AccessToken, deviceID, user)
	return true
}

// clearPersisted removes every session credential from the store. Failures
// are logged; local logout must never be blocked by storage trouble.
func (m *Manager) clearPersisted(ctx context.Context) {
	for _, key := range []store.Key{store.KeyRefreshToken, store.KeyAccessToken, store.KeyPINEnabled} {
		if err := m.store.Delete(ctx, key); err != nil {
			m.logger.Warn(ctx, "credential delete failed",
				map[string]interface{}{"key": string(key), "error": err.Error()})
		}
	}
}

// readStored reads a persisted value, treating storage failure as absence.
func (m *Manager) readStored(ctx context.Context, key store.Key) string {
	value, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			m.logger.Warn(ctx, "credential read failed, treating as absent",
				map[string]interface{}{"key": string(key), "error": err.Error()})
		}
		return ""
	}
	return value
}
