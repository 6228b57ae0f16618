package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/appfold/sessionbridge/bridge"
	"github.com/appfold/sessionbridge/device"
	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/errors"
	"github.com/appfold/sessionbridge/platform"
	"github.com/appfold/sessionbridge/store"
	"github.com/appfold/sessionbridge/webview"
)

// fakeAPI is a programmable AuthAPI. Unset hooks fail the call with a
// transport error so tests notice unexpected traffic.
type fakeAPI struct {
	mu sync.Mutex

	pinLoginFn func(deviceID, hashedPIN, plat string) (*domain.TokenSet, error)
	bioLoginFn func(deviceID, plat string) (*domain.TokenSet, error)
	checkFn    func(accessToken, deviceID string) (*domain.CheckResult, error)
	refreshFn  func(refreshToken, deviceID string) (*domain.TokenSet, error)
	optionsFn  func(deviceID string) (*domain.LoginOptions, error)
	logoutFn   func(refreshToken, deviceID string) error
	setPINFn   func(email, hashedPIN, deviceID, plat string) (string, error)

	pinLoginCalls []string // hashed PINs seen on the wire
	bioLoginCalls int
	checkCalls    int
	refreshCalls  []string
	logoutCalls   []string
	optionsCalls  int
}

func unexpectedCall(op string) error {
	return errors.NewTransportError(op, fmt.Errorf("unexpected %s call", op))
}

func (f *fakeAPI) PINLogin(_ context.Context, deviceID, hashedPIN, plat string) (*domain.TokenSet, error) {
	f.mu.Lock()
	f.pinLoginCalls = append(f.pinLoginCalls, hashedPIN)
	fn := f.pinLoginFn
	f.mu.Unlock()
	if fn == nil {
		return nil, unexpectedCall("pin login")
	}
	return fn(deviceID, hashedPIN, plat)
}

func (f *fakeAPI) BiometricLogin(_ context.Context, deviceID, plat string) (*domain.TokenSet, error) {
	f.mu.Lock()
	f.bioLoginCalls++
	fn := f.bioLoginFn
	f.mu.Unlock()
	if fn == nil {
		return nil, unexpectedCall("biometric login")
	}
	return fn(deviceID, plat)
}

func (f *fakeAPI) CheckToken(_ context.Context, accessToken, deviceID string) (*domain.CheckResult, error) {
	f.mu.Lock()
	f.checkCalls++
	fn := f.checkFn
	f.mu.Unlock()
	if fn == nil {
		return nil, unexpectedCall("token check")
	}
	return fn(accessToken, deviceID)
}

func (f *fakeAPI) RefreshToken(_ context.Context, refreshToken, deviceID string) (*domain.TokenSet, error) {
	f.mu.Lock()
	f.refreshCalls = append(f.refreshCalls, refreshToken)
	fn := f.refreshFn
	f.mu.Unlock()
	if fn == nil {
		return nil, unexpectedCall("token refresh")
	}
	return fn(refreshToken, deviceID)
}

func (f *fakeAPI) LoginOptionsByDevice(_ context.Context, deviceID string) (*domain.LoginOptions, error) {
	f.mu.Lock()
	f.optionsCalls++
	fn := f.optionsFn
	f.mu.Unlock()
	if fn == nil {
		return nil, unexpectedCall("login options")
	}
	return fn(deviceID)
}

func (f *fakeAPI) Logout(_ context.Context, refreshToken, deviceID string) error {
	f.mu.Lock()
	f.logoutCalls = append(f.logoutCalls, refreshToken)
	fn := f.logoutFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(refreshToken, deviceID)
}

func (f *fakeAPI) SetPIN(_ context.Context, email, hashedPIN, deviceID, plat string) (string, error) {
	f.mu.Lock()
	fn := f.setPINFn
	f.mu.Unlock()
	if fn == nil {
		return "", unexpectedCall("set pin")
	}
	return fn(email, hashedPIN, deviceID, plat)
}

func (f *fakeAPI) pinCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pinLoginCalls)
}

// tokenBroadcast is one recorded BroadcastSetTokens call.
type tokenBroadcast struct {
	AccessToken string
	DeviceID    string
	User        *domain.User
}

// logoutBroadcast is one recorded BroadcastLogout call.
type logoutBroadcast struct {
	SkipReload bool
	Reason     string
}

// fakeBroadcaster records every content-facing delivery.
type fakeBroadcaster struct {
	mu        sync.Mutex
	tokens    []tokenBroadcast
	logouts   []logoutBroadcast
	envelopes []bridge.Envelope
	reloads   int
	ready     bool
	callbacks []func(webview.VerificationOutcome)
}

func (b *fakeBroadcaster) BroadcastSetTokens(_ context.Context, accessToken, deviceID string, user *domain.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, tokenBroadcast{AccessToken: accessToken, DeviceID: deviceID, User: user})
}

func (b *fakeBroadcaster) BroadcastLogout(_ context.Context, skipReload bool, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logouts = append(b.logouts, logoutBroadcast{SkipReload: skipReload, Reason: reason})
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, env bridge.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envelopes = append(b.envelopes, env)
}

func (b *fakeBroadcaster) SetReady(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = true
}

func (b *fakeBroadcaster) Reload(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reloads++
}

func (b *fakeBroadcaster) OnVerificationResult(fn func(webview.VerificationOutcome)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, fn)
}

func (b *fakeBroadcaster) ReportVerification(outcome webview.VerificationOutcome) {
	b.mu.Lock()
	callbacks := make([]func(webview.VerificationOutcome), len(b.callbacks))
	copy(callbacks, b.callbacks)
	b.mu.Unlock()
	for _, fn := range callbacks {
		fn(outcome)
	}
}

func (b *fakeBroadcaster) tokenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tokens)
}

func (b *fakeBroadcaster) logoutCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.logouts)
}

func (b *fakeBroadcaster) reloadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reloads
}

func (b *fakeBroadcaster) envelopesOfType(t bridge.Type) []bridge.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bridge.Envelope
	for _, env := range b.envelopes {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// testRig bundles a manager with its injected fakes.
type testRig struct {
	manager     *Manager
	api         *fakeAPI
	broadcaster *fakeBroadcaster
	store       *store.MemoryStore
	prompter    *platform.StaticPrompter
}

func newTestRig(t *testing.T, api *fakeAPI, opts Options) *testRig {
	t.Helper()
	if opts.Watchdog == 0 {
		opts.Watchdog = time.Second
	}
	if opts.CoalesceWindow == 0 {
		opts.CoalesceWindow = 5 * time.Millisecond
	}

	credStore := store.NewMemoryStore()
	broadcaster := &fakeBroadcaster{}
	prompter := platform.Approved()
	identity := device.NewIdentity(credStore, platform.Info{Name: "test", OSVersion: "1.0"}, nil)
	m := NewManager(credStore, api, broadcaster, prompter, identity, nil, opts)
	t.Cleanup(m.Close)

	return &testRig{manager: m, api: api, broadcaster: broadcaster, store: credStore, prompter: prompter}
}

// seed writes a credential directly into the backing store.
func (r *testRig) seed(t *testing.T, key store.Key, value string) {
	t.Helper()
	if err := r.store.Set(context.Background(), key, value); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

// stored reads a credential, returning "" when absent.
func (r *testRig) stored(key store.Key) string {
	value, err := r.store.Get(context.Background(), key)
	if err != nil {
		return ""
	}
	return value
}

func tokenSet(access, refresh string) *domain.TokenSet {
	return &domain.TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}
