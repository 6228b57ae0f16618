// Package bridge defines the bidirectional message contract between native
// code and embedded web content: the inbound vocabulary the page may send,
// the outbound envelopes the session manager emits, and the injection
// scripts that deliver them.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/appfold/sessionbridge/domain"
)

// Type discriminates bridge messages.
type Type string

// Inbound message types (content -> native).
const (
	TypePINLoginRequest       Type = "PIN_LOGIN_REQUEST"
	TypeBiometricLoginRequest Type = "BIOMETRIC_LOGIN_REQUEST"
	TypeGetDeviceInfo         Type = "getDeviceInfo"
	TypeLoginSuccess          Type = "loginSuccess"
	TypePINLoginSuccess       Type = "pinLoginSuccess"
	TypeBiometricLoginSuccess Type = "biometricLoginSuccess"
	TypeLoginFailure          Type = "loginFailure"
	TypePINLoginFailure       Type = "pinLoginFailure"
	TypeBiometricLoginFailure Type = "biometricLoginFailure"
	TypeLogout                Type = "logout"
	TypeSecuritySetupNeeded   Type = "securitySetupNeeded"
	TypeTokenVerification     Type = "tokenVerification"
)

// Outbound message types (native -> content).
const (
	TypeDeviceInfo             Type = "deviceInfo"
	TypeSetTokens              Type = "setTokens"
	TypePINLoginProgress       Type = "pinLoginProgress"
	TypeBiometricLoginProgress Type = "biometricLoginProgress"
	TypePINLoginError          Type = "pinLoginError"
	TypeBiometricLoginError    Type = "biometricLoginError"
)

// Message is one inbound bridge message. Fields beyond Type are populated
// depending on the discriminant; unknown fields are ignored.
type Message struct {
	Type Type `json:"type"`

	// Login outcome payloads.
	Success      *bool        `json:"success,omitempty"`
	AccessToken  string       `json:"accessToken,omitempty"`
	RefreshToken string       `json:"refreshToken,omitempty"`
	ExpiresAt    int64        `json:"expiresAt,omitempty"`
	User         *domain.User `json:"user,omitempty"`
	Error        string       `json:"error,omitempty"`

	// PIN_LOGIN_REQUEST payload. Raw digits from the page keypad; hashed
	// by the session manager before any network use.
	PIN string `json:"pin,omitempty"`

	// logout payload.
	Reason string `json:"reason,omitempty"`

	// securitySetupNeeded payload.
	HasPIN     bool `json:"hasPin,omitempty"`
	HasPasskey bool `json:"hasPasskey,omitempty"`

	// tokenVerification payload: "success", "failed" or "error".
	Result string `json:"result,omitempty"`

	// RequestID correlates request/response pairs (device-info requests,
	// content-originated logins).
	RequestID string `json:"requestId,omitempty"`
}

// Parse decodes one inbound message. The type discriminant must be present;
// everything else is optional.
func Parse(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed bridge message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("bridge message missing type")
	}
	return &msg, nil
}

// IsLoginSuccess reports whether the message carries a completed login.
func (m *Message) IsLoginSuccess() bool {
	switch m.Type {
	case TypeLoginSuccess, TypePINLoginSuccess, TypeBiometricLoginSuccess:
		return true
	}
	return false
}

// IsLoginFailure reports whether the message carries a failed login.
func (m *Message) IsLoginFailure() bool {
	switch m.Type {
	case TypeLoginFailure, TypePINLoginFailure, TypeBiometricLoginFailure:
		return true
	}
	return false
}

// SuppressesReload reports whether this message, present anywhere in a
// coalesced batch, suppresses the trailing full-content reload. Login
// failures keep the page intact so the user can retry; device-info requests
// are pure reads.
func (m *Message) SuppressesReload() bool {
	return m.IsLoginFailure() || m.Type == TypeGetDeviceInfo
}

// Envelope is one outbound bridge message.
type Envelope struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload,omitempty"`
}

// TokenPayload is the payload of a setTokens envelope.
type TokenPayload struct {
	AccessToken string       `json:"accessToken"`
	DeviceID    string       `json:"deviceId"`
	User        *domain.User `json:"user,omitempty"`
}

// DeviceInfoPayload answers a getDeviceInfo request.
type DeviceInfoPayload struct {
	DeviceID  string `json:"deviceId"`
	Platform  string `json:"platform"`
	OSVersion string `json:"osVersion,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ResultPayload reports a login outcome or progress step back to content.
type ResultPayload struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Stage     string `json:"stage,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}
