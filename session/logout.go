package session

import (
	"context"

	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/store"
)

// Logout ends the session. The server-side revocation is best effort; the
// content broadcast and the local credential wipe run unconditionally, so
// the client always ends up logged out even under total network failure.
func (m *Manager) Logout(ctx context.Context, skipContentReload bool) domain.LoginResult {
	m.mu.Lock()
	refreshToken := m.session.RefreshToken
	m.mu.Unlock()
	if refreshToken == "" {
		refreshToken = m.readStored(ctx, store.KeyRefreshToken)
	}

	ident := m.identity.Get(ctx)
	if refreshToken != "" {
		if err := m.api.Logout(ctx, refreshToken, ident.ID); err != nil {
			m.logger.Warn(ctx, "server logout failed, clearing local state anyway",
				map[string]interface{}{"error": err.Error()})
		}
	}

	m.broadcaster.BroadcastLogout(ctx, skipContentReload, "user logout")
	m.clearLocal(ctx)
	return domain.LoginResult{Success: true}
}

// forceLogout is the unrequested, automatic logout triggered by a rejected
// refresh token or a failed content-side token verification. No server call
// is made; the credential being revoked is already dead.
func (m *Manager) forceLogout(ctx context.Context, reason string) {
	m.logger.Info(ctx, "forcing local logout", map[string]interface{}{"reason": reason})
	m.broadcaster.BroadcastLogout(ctx, false, reason)
	m.clearLocal(ctx)
}

// clearLocal wipes the persisted credentials and the in-memory session and
// bumps the logout epoch so in-flight token writers discard their results.
func (m *Manager) clearLocal(ctx context.Context) {
	m.clearPersisted(ctx)
	m.mu.Lock()
	m.session.Clear()
	m.logoutEpoch++
	m.mu.Unlock()
}
