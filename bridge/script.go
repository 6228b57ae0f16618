package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Page-side integration points. The page may define the intake function and
// logout hook; the event and message channels work regardless.
const (
	intakeFunction = "window.nativeBridgeReceive"
	logoutHook     = "window.onNativeLogout"
	eventName      = "native-bridge-message"
	logoutEvent    = "native-logout"
)

// jsEscaper neutralizes the two code points that are valid JSON but
// terminate a JavaScript string literal context.
var jsEscaper = strings.NewReplacer(
	"\u2028", `\u2028`,
	"\u2029", `\u2029`,
	"</", `<\/`,
)

func jsonLiteral(v any) (string, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode bridge payload: %w", err)
	}
	return jsEscaper.Replace(string(encoded)), nil
}

// DeliveryScript builds the single injection script that delivers env to the
// page over three redundant channels: the named intake function if the page
// defines one, a generic message post, and a custom event dispatch. The
// redundancy exists because the page's load order relative to the bridge is
// not guaranteed; every channel carries the identical envelope.
func DeliveryScript(env Envelope) (string, error) {
	literal, err := jsonLiteral(env)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(function() {
  var msg = %s;
  try { if (typeof %s === 'function') { %s(msg); } } catch (e) {}
  try { window.postMessage(msg, '*'); } catch (e) {}
  try { window.dispatchEvent(new CustomEvent(%q, { detail: msg })); } catch (e) {}
})();`, literal, intakeFunction, intakeFunction, eventName), nil
}

// TokenScript builds the injection script for a setTokens envelope. On top
// of the three standard channels it writes the token data straight into
// page-local storage when the intake function is absent, so a page whose
// script never loaded still finds the credentials on its next read.
func TokenScript(payload TokenPayload) (string, error) {
	env := Envelope{Type: TypeSetTokens, Payload: payload}
	literal, err := jsonLiteral(env)
	if err != nil {
		return "", err
	}
	userLiteral := "null"
	if payload.User != nil {
		userLiteral, err = jsonLiteral(payload.User)
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf(`(function() {
  var msg = %s;
  var handled = false;
  try { if (typeof %s === 'function') { %s(msg); handled = true; } } catch (e) {}
  if (!handled) {
    try {
      localStorage.setItem('accessToken', msg.payload.accessToken);
      localStorage.setItem('deviceId', msg.payload.deviceId);
      var user = %s;
      if (user) { localStorage.setItem('user', JSON.stringify(user)); }
    } catch (e) {}
  }
  try { window.postMessage(msg, '*'); } catch (e) {}
  try { window.dispatchEvent(new CustomEvent(%q, { detail: msg })); } catch (e) {}
})();`, literal, intakeFunction, intakeFunction, userLiteral, eventName), nil
}

// LogoutScript builds the injection script that logs the page out: it
// invokes the page-defined logout hook if present, dispatches the logout
// event, and clears page-local storage. The post-logout reload is issued
// separately by the broadcaster so it happens even when this script fails.
func LogoutScript(reason string) (string, error) {
	reasonLiteral, err := jsonLiteral(reason)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(function() {
  var reason = %s;
  try { if (typeof %s === 'function') { %s(reason); } } catch (e) {}
  try { window.dispatchEvent(new CustomEvent(%q, { detail: { reason: reason } })); } catch (e) {}
  try { localStorage.clear(); } catch (e) {}
  try { sessionStorage.clear(); } catch (e) {}
})();`, reasonLiteral, logoutHook, logoutHook, logoutEvent), nil
}
