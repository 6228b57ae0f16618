package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appfold/sessionbridge/bridge"
	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/errors"
	"github.com/appfold/sessionbridge/store"
	"github.com/appfold/sessionbridge/webview"
)

func TestHandleContentMessageRejectsMalformed(t *testing.T) {
	rig := newTestRig(t, &fakeAPI{}, Options{})

	assert.Error(t, rig.manager.HandleContentMessage([]byte("{not json")))
	assert.Error(t, rig.manager.HandleContentMessage([]byte(`{"pin":"123456"}`)), "missing type")
}

func TestBatchLoginSuccessReloadsOnce(t *testing.T) {
	rig := newTestRig(t, &fakeAPI{}, Options{})

	rig.manager.processBatch([]bridge.Message{
		{Type: bridge.TypeLoginSuccess, AccessToken: "AT1", RefreshToken: "RT1",
			User: &domain.User{Email: "a@b.com"}},
	})

	assert.True(t, rig.manager.Session().IsAuthenticated())
	assert.Equal(t, "RT1", rig.stored(store.KeyRefreshToken))
	assert.Equal(t, 1, rig.broadcaster.reloadCount(), "exactly one reload per batch")
}

func TestBatchFailureCancelsCoalescedLogout(t *testing.T) {
	rig := loggedInRig(t, &fakeAPI{})

	rig.manager.processBatch([]bridge.Message{
		{Type: bridge.TypePINLoginFailure, Error: "wrong pin"},
		{Type: bridge.TypeLogout},
	})

	// The page was tearing down a failed login attempt, not the session.
	assert.True(t, rig.manager.Session().IsAuthenticated())
	assert.Equal(t, "RT1", rig.stored(store.KeyRefreshToken))
	assert.Zero(t, rig.broadcaster.logoutCount())
	// Failures keep the page intact for a retry.
	assert.Zero(t, rig.broadcaster.reloadCount())
}

func TestBatchLogoutAloneLogsOut(t *testing.T) {
	rig := loggedInRig(t, &fakeAPI{})

	rig.manager.processBatch([]bridge.Message{{Type: bridge.TypeLogout}})

	assert.False(t, rig.manager.Session().IsAuthenticated())
	require.Equal(t, 1, rig.broadcaster.logoutCount())
	// The logout defers its own reload to the batch-level one.
	assert.True(t, rig.broadcaster.logouts[0].SkipReload)
	assert.Equal(t, 1, rig.broadcaster.reloadCount())
}

func TestBatchDeviceInfoSuppressesReload(t *testing.T) {
	rig := newTestRig(t, &fakeAPI{}, Options{})

	rig.manager.processBatch([]bridge.Message{
		{Type: bridge.TypeGetDeviceInfo, RequestID: "req-7"},
	})

	envs := rig.broadcaster.envelopesOfType(bridge.TypeDeviceInfo)
	require.Len(t, envs, 1)
	payload, ok := envs[0].Payload.(bridge.DeviceInfoPayload)
	require.True(t, ok)
	assert.NotEmpty(t, payload.DeviceID)
	assert.Equal(t, "req-7", payload.RequestID)
	assert.Zero(t, rig.broadcaster.reloadCount(), "a pure read never reloads the page")
}

func TestBatchPINRequestProgressAndSuccess(t *testing.T) {
	api := &fakeAPI{
		pinLoginFn: func(string, string, string) (*domain.TokenSet, error) {
			return tokenSet("AT1", "RT1"), nil
		},
	}
	rig := newTestRig(t, api, Options{})

	rig.manager.processBatch([]bridge.Message{
		{Type: bridge.TypePINLoginRequest, PIN: "135790", RequestID: "req-1"},
	})

	require.Len(t, rig.broadcaster.envelopesOfType(bridge.TypePINLoginProgress), 1)
	success := rig.broadcaster.envelopesOfType(bridge.TypePINLoginSuccess)
	require.Len(t, success, 1)
	payload := success[0].Payload.(bridge.ResultPayload)
	assert.True(t, payload.Success)
	assert.Equal(t, "req-1", payload.RequestID)
	assert.True(t, rig.manager.Session().IsAuthenticated())
}

func TestBatchPINRequestDistinguishesRejectionFromTransport(t *testing.T) {
	t.Run("rejection", func(t *testing.T) {
		api := &fakeAPI{
			pinLoginFn: func(string, string, string) (*domain.TokenSet, error) {
				return nil, errors.NewAPIError(401, errors.CodeInvalidCredentials, "invalid credentials")
			},
		}
		rig := newTestRig(t, api, Options{})

		rig.manager.processBatch([]bridge.Message{
			{Type: bridge.TypePINLoginRequest, PIN: "135790", RequestID: "req-1"},
		})

		failures := rig.broadcaster.envelopesOfType(bridge.TypePINLoginFailure)
		require.Len(t, failures, 1)
		assert.Equal(t, "incorrect PIN", failures[0].Payload.(bridge.ResultPayload).Error)
		assert.Empty(t, rig.broadcaster.envelopesOfType(bridge.TypePINLoginError))
	})

	t.Run("transport", func(t *testing.T) {
		rig := newTestRig(t, &fakeAPI{}, Options{}) // unset hook fails with a transport error

		rig.manager.processBatch([]bridge.Message{
			{Type: bridge.TypePINLoginRequest, PIN: "135790", RequestID: "req-1"},
		})

		assert.Empty(t, rig.broadcaster.envelopesOfType(bridge.TypePINLoginFailure))
		require.Len(t, rig.broadcaster.envelopesOfType(bridge.TypePINLoginError), 1)
	})
}

func TestBatchSecuritySetupNeeded(t *testing.T) {
	rig := newTestRig(t, &fakeAPI{}, Options{})

	var got *domain.LoginOptions
	rig.manager.SetOnSecuritySetupNeeded(func(opts domain.LoginOptions) { got = &opts })

	rig.manager.processBatch([]bridge.Message{
		{Type: bridge.TypeSecuritySetupNeeded, HasPIN: true, HasPasskey: false},
	})

	require.NotNil(t, got)
	assert.True(t, got.HasPIN)
	assert.False(t, got.HasPasskey)
}

func TestVerificationFailureForcesLogout(t *testing.T) {
	rig := loggedInRig(t, &fakeAPI{})

	rig.manager.processBatch([]bridge.Message{
		{Type: bridge.TypeTokenVerification, Result: string(webview.VerificationFailed)},
	})

	assert.False(t, rig.manager.Session().IsAuthenticated())
	assert.Empty(t, rig.stored(store.KeyRefreshToken))
	assert.Equal(t, 1, rig.broadcaster.logoutCount())
}

func TestVerificationSuccessKeepsSession(t *testing.T) {
	rig := loggedInRig(t, &fakeAPI{})

	rig.manager.processBatch([]bridge.Message{
		{Type: bridge.TypeTokenVerification, Result: string(webview.VerificationSuccess)},
	})

	assert.True(t, rig.manager.Session().IsAuthenticated())
	assert.Zero(t, rig.broadcaster.logoutCount())
}

func TestMessagesCoalesceThroughCollector(t *testing.T) {
	rig := loggedInRig(t, &fakeAPI{})

	// Delivered within one window: the failure must shield the logout even
	// though they arrive as separate messages.
	offer := func(msg bridge.Message) {
		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		require.NoError(t, rig.manager.HandleContentMessage(raw))
	}
	offer(bridge.Message{Type: bridge.TypePINLoginFailure, Error: "wrong pin"})
	offer(bridge.Message{Type: bridge.TypeLogout})

	// The session must still be intact once the window has flushed.
	require.Never(t, func() bool {
		return !rig.manager.Session().IsAuthenticated()
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Zero(t, rig.broadcaster.logoutCount())
}

func TestPendingOpsRoundTrip(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{
		pinLoginFn: func(string, string, string) (*domain.TokenSet, error) {
			return tokenSet("AT1", "RT1"), nil
		},
	}
	rig := newTestRig(t, api, Options{})

	id, ch := rig.manager.BeginPINEntry()
	require.NotEmpty(t, id)

	result := rig.manager.CompletePINEntry(ctx, id, "135790")
	assert.True(t, result.Success)

	delivered, ok := <-ch
	require.True(t, ok)
	assert.True(t, delivered.Success)

	// The channel closes after its single result.
	_, open := <-ch
	assert.False(t, open)
}

func TestPendingOpsCancel(t *testing.T) {
	rig := newTestRig(t, &fakeAPI{}, Options{})

	id, ch := rig.manager.BeginPINEntry()
	rig.manager.CancelPINEntry(id)

	_, open := <-ch
	assert.False(t, open, "cancel closes without delivering a result")

	assert.False(t, rig.manager.pending.Complete(id, domain.LoginResult{Success: true}),
		"completing a canceled operation reports false")
}

func TestPendingOpsUnknownID(t *testing.T) {
	rig := newTestRig(t, &fakeAPI{}, Options{})
	assert.False(t, rig.manager.pending.Complete("no-such-id", domain.LoginResult{}))
}
