package webview

import (
	"context"
	"sync"
	"time"

	"github.com/appfold/sessionbridge/bridge"
	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/log"
)

// Broadcaster owns the registered WebView set and the pending broadcast
// queue. It is explicitly constructed and injected by the composition root;
// there is no package-level instance.
type Broadcaster struct {
	logger      log.Logger
	reloadDelay time.Duration

	mu    sync.Mutex
	views map[string]WebView
	ready bool
	queue []bridge.TokenPayload

	// sendMu serializes token deliveries so a drain in progress cannot be
	// overtaken by a concurrent direct broadcast.
	sendMu sync.Mutex

	cbMu      sync.Mutex
	callbacks []func(VerificationOutcome)
}

// NewBroadcaster creates a Broadcaster. reloadDelay is the pause before the
// post-logout content reload; zero selects a 300ms default.
func NewBroadcaster(logger log.Logger, reloadDelay time.Duration) *Broadcaster {
	if logger == nil {
		logger = log.NewNop()
	}
	if reloadDelay <= 0 {
		reloadDelay = 300 * time.Millisecond
	}
	return &Broadcaster{
		logger:      logger,
		reloadDelay: reloadDelay,
		views:       make(map[string]WebView),
	}
}

// Register adds an instance to the set. Idempotent.
func (b *Broadcaster) Register(view WebView) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.views[view.ID()] = view
}

// Unregister removes an instance from the set. Idempotent; broadcasts
// already in flight to other members are unaffected.
func (b *Broadcaster) Unregister(view WebView) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.views, view.ID())
}

// snapshot copies current membership so iteration survives concurrent
// register/unregister.
func (b *Broadcaster) snapshot() []WebView {
	b.mu.Lock()
	defer b.mu.Unlock()
	views := make([]WebView, 0, len(b.views))
	for _, v := range b.views {
		views = append(views, v)
	}
	return views
}

// Execute runs a script on every registered instance. Failures on
// individual instances are logged and do not abort delivery to others.
func (b *Broadcaster) Execute(ctx context.Context, script string) {
	for _, view := range b.snapshot() {
		if err := view.ExecuteScript(ctx, script); err != nil {
			b.logger.Warn(ctx, "script injection failed",
				map[string]interface{}{"webview": view.ID(), "error": err.Error()})
		}
	}
}

// BroadcastSetTokens delivers a token set to all instances, or enqueues it
// in FIFO order when no instance has signaled readiness yet.
func (b *Broadcaster) BroadcastSetTokens(ctx context.Context, accessToken, deviceID string, user *domain.User) {
	payload := bridge.TokenPayload{AccessToken: accessToken, DeviceID: deviceID, User: user}

	b.mu.Lock()
	if !b.ready {
		b.queue = append(b.queue, payload)
		n := len(b.queue)
		b.mu.Unlock()
		b.logger.Debug(ctx, "bridge not ready, token broadcast queued",
			map[string]interface{}{"queued": n})
		return
	}
	b.mu.Unlock()

	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	b.deliverTokens(ctx, payload)
}

func (b *Broadcaster) deliverTokens(ctx context.Context, payload bridge.TokenPayload) {
	script, err := bridge.TokenScript(payload)
	if err != nil {
		b.logger.Error(ctx, "token script build failed", err)
		return
	}
	b.Execute(ctx, script)
}

// SetReady marks the bridge ready and drains every queued broadcast in FIFO
// order. Entries are delivered exactly once; enqueues racing the drain are
// delivered after it, in their own order.
func (b *Broadcaster) SetReady(ctx context.Context) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	b.ready = true
	queued := b.queue
	b.queue = nil
	b.mu.Unlock()

	if len(queued) == 0 {
		return
	}
	b.logger.Info(ctx, "bridge ready, draining queued broadcasts",
		map[string]interface{}{"count": len(queued)})
	for _, payload := range queued {
		b.deliverTokens(ctx, payload)
	}
}

// Ready reports whether the content side has signaled readiness.
func (b *Broadcaster) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// BroadcastLogout instructs every instance to run the page logout sequence:
// invoke the page logout hook if present, dispatch the logout event, clear
// page-local storage, and, unless skipped, reload after a short delay so a
// clean state is guaranteed even if the page-level hook was absent or
// failed.
func (b *Broadcaster) BroadcastLogout(ctx context.Context, skipReload bool, reason string) {
	script, err := bridge.LogoutScript(reason)
	if err != nil {
		b.logger.Error(ctx, "logout script build failed", err)
	} else {
		b.Execute(ctx, script)
	}

	if skipReload {
		return
	}
	time.AfterFunc(b.reloadDelay, func() {
		b.Reload(context.Background())
	})
}

// Reload reloads all instances.
func (b *Broadcaster) Reload(ctx context.Context) {
	for _, view := range b.snapshot() {
		if err := view.Reload(ctx); err != nil {
			b.logger.Warn(ctx, "reload failed",
				map[string]interface{}{"webview": view.ID(), "error": err.Error()})
		}
	}
}

// OnVerificationResult registers a callback invoked whenever embedded
// content reports a token-verification outcome. The session manager uses
// this to revoke local state on failure; this component only fans out.
func (b *Broadcaster) OnVerificationResult(fn func(VerificationOutcome)) {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.callbacks = append(b.callbacks, fn)
}

// ReportVerification fans a verification outcome out to every registered
// callback.
func (b *Broadcaster) ReportVerification(outcome VerificationOutcome) {
	b.cbMu.Lock()
	callbacks := make([]func(VerificationOutcome), len(b.callbacks))
	copy(callbacks, b.callbacks)
	b.cbMu.Unlock()

	for _, fn := range callbacks {
		fn(outcome)
	}
}

// Broadcast delivers an arbitrary outbound envelope over the standard
// three-channel primitive.
func (b *Broadcaster) Broadcast(ctx context.Context, env bridge.Envelope) {
	script, err := bridge.DeliveryScript(env)
	if err != nil {
		b.logger.Error(ctx, "envelope script build failed", err)
		return
	}
	b.Execute(ctx, script)
}
