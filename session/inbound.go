package session

import (
	"context"

	"github.com/appfold/sessionbridge/bridge"
	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/errors"
	"github.com/appfold/sessionbridge/webview"
)

// HandleContentMessage accepts one raw inbound message from embedded
// content. Messages are coalesced into short batches before processing so
// near-simultaneous signals can be jointly inspected.
func (m *Manager) HandleContentMessage(raw []byte) error {
	msg, err := bridge.Parse(raw)
	if err != nil {
		m.logger.Warn(context.Background(), "dropping malformed content message",
			map[string]interface{}{"error": err.Error()})
		return err
	}
	m.collector.Offer(*msg)
	return nil
}

// processBatch handles one coalesced batch of inbound messages. The batch
// is inspected as a whole first: a login failure anywhere in it cancels any
// logout it also carries, and failures and device-info requests suppress
// the trailing content reload.
func (m *Manager) processBatch(batch []bridge.Message) {
	ctx := context.Background()

	hasFailure := false
	suppressReload := false
	for i := range batch {
		if batch[i].IsLoginFailure() {
			hasFailure = true
		}
		if batch[i].SuppressesReload() {
			suppressReload = true
		}
	}

	for i := range batch {
		msg := &batch[i]
		switch msg.Type {
		case bridge.TypePINLoginRequest:
			m.handlePINRequest(ctx, msg)

		case bridge.TypeBiometricLoginRequest:
			m.handleBiometricRequest(ctx, msg)

		case bridge.TypeGetDeviceInfo:
			m.handleDeviceInfo(ctx, msg)

		case bridge.TypeLoginSuccess, bridge.TypePINLoginSuccess, bridge.TypeBiometricLoginSuccess:
			result := m.CompleteLogin(ctx, msg.RefreshToken, msg.User, msg.AccessToken)
			if !result.Success {
				m.logger.Warn(ctx, "content login completion rejected",
					map[string]interface{}{"error": result.Error})
			}
			m.pending.Complete(msg.RequestID, result)

		case bridge.TypeLoginFailure, bridge.TypePINLoginFailure, bridge.TypeBiometricLoginFailure:
			m.logger.Info(ctx, "content reported login failure",
				map[string]interface{}{"type": string(msg.Type), "error": msg.Error})
			m.pending.Complete(msg.RequestID, domain.LoginResult{Success: false, Error: msg.Error})

		case bridge.TypeLogout:
			if hasFailure {
				// A failed login and a logout in the same batch means the
				// page is tearing down a login attempt, not the session.
				m.logger.Info(ctx, "ignoring logout coalesced with login failure")
				continue
			}
			m.Logout(ctx, true)

		case bridge.TypeSecuritySetupNeeded:
			m.setupMu.Lock()
			fn := m.onSetupNeeded
			m.setupMu.Unlock()
			if fn != nil {
				fn(domain.LoginOptions{HasPIN: msg.HasPIN, HasPasskey: msg.HasPasskey})
			}

		case bridge.TypeTokenVerification:
			m.broadcaster.ReportVerification(webview.VerificationOutcome(msg.Result))

		default:
			m.logger.Debug(ctx, "ignoring unknown content message",
				map[string]interface{}{"type": string(msg.Type)})
		}
	}

	// One reload after the whole batch, so the page re-reads freshly set
	// storage; suppressed when any member asked for page state to survive.
	if len(batch) > 0 && !suppressReload {
		m.broadcaster.Reload(ctx)
	}
}

func (m *Manager) handlePINRequest(ctx context.Context, msg *bridge.Message) {
	m.broadcaster.Broadcast(ctx, bridge.Envelope{
		Type:    bridge.TypePINLoginProgress,
		Payload: bridge.ResultPayload{Success: true, Stage: "authenticating", RequestID: msg.RequestID},
	})

	err := m.pinLogin(ctx, msg.PIN)
	m.replyLogin(ctx, err, msg.RequestID,
		bridge.TypePINLoginSuccess, bridge.TypePINLoginFailure, bridge.TypePINLoginError)
}

func (m *Manager) handleBiometricRequest(ctx context.Context, msg *bridge.Message) {
	m.broadcaster.Broadcast(ctx, bridge.Envelope{
		Type:    bridge.TypeBiometricLoginProgress,
		Payload: bridge.ResultPayload{Success: true, Stage: "authenticating", RequestID: msg.RequestID},
	})

	err := m.biometricLogin(ctx)
	m.replyLogin(ctx, err, msg.RequestID,
		bridge.TypeBiometricLoginSuccess, bridge.TypeBiometricLoginFailure, bridge.TypeBiometricLoginError)
}

// replyLogin reports a native login outcome back to content, distinguishing
// a rejection (failure) from infrastructure trouble (error).
func (m *Manager) replyLogin(ctx context.Context, err error, requestID string, success, failure, failed bridge.Type) {
	if err == nil {
		m.broadcaster.Broadcast(ctx, bridge.Envelope{
			Type:    success,
			Payload: bridge.ResultPayload{Success: true, RequestID: requestID},
		})
		m.pending.Complete(requestID, domain.LoginResult{Success: true})
		return
	}

	outcome := failure
	var transport *errors.TransportError
	if errors.As(err, &transport) || errors.Is(err, errors.ErrPINHashUnavailable) {
		outcome = failed
	}
	m.broadcaster.Broadcast(ctx, bridge.Envelope{
		Type:    outcome,
		Payload: bridge.ResultPayload{Success: false, Error: humanize(err), RequestID: requestID},
	})
	m.pending.Complete(requestID, domain.LoginResult{Success: false, Error: humanize(err)})
}

func (m *Manager) handleDeviceInfo(ctx context.Context, msg *bridge.Message) {
	ident := m.identity.Get(ctx)
	m.broadcaster.Broadcast(ctx, bridge.Envelope{
		Type: bridge.TypeDeviceInfo,
		Payload: bridge.DeviceInfoPayload{
			DeviceID:  ident.ID,
			Platform:  ident.Platform,
			OSVersion: ident.OSVersion,
			RequestID: msg.RequestID,
		},
	})
}

// BeginPINEntry opens a pending PIN-entry operation for a modal screen. The
// returned id travels to the modal; the channel delivers the eventual
// result to the opener.
func (m *Manager) BeginPINEntry() (string, <-chan domain.LoginResult) {
	return m.pending.Begin()
}

// CompletePINEntry finishes a modal PIN entry: it runs the PIN login and
// resolves the pending operation the opener is awaiting.
func (m *Manager) CompletePINEntry(ctx context.Context, id, pin string) domain.LoginResult {
	result := m.PINLogin(ctx, pin)
	m.pending.Complete(id, result)
	return result
}

// CancelPINEntry abandons a modal PIN entry (user dismissed the screen).
func (m *Manager) CancelPINEntry(id string) {
	m.pending.Cancel(id)
}
