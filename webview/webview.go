// Package webview tracks live embedded web-content instances and broadcasts
// bridge messages to them, queuing outbound token broadcasts until the
// content side signals readiness.
package webview

import "context"

// WebView is one live embedded web-content instance. Platform glue adapts
// the real rendering surface to this interface.
type WebView interface {
	// ID identifies the instance for registry membership and logging.
	ID() string
	// ExecuteScript runs JavaScript in the page. Fire-and-forget: it does
	// not block on the page's execution of the script.
	ExecuteScript(ctx context.Context, script string) error
	// Reload reloads the page.
	Reload(ctx context.Context) error
}

// VerificationOutcome is the page's reported token-verification result.
type VerificationOutcome string

const (
	VerificationSuccess VerificationOutcome = "success"
	VerificationFailed  VerificationOutcome = "failed"
	VerificationError   VerificationOutcome = "error"
)
