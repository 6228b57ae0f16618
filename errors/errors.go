package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors used across the session layer.
var (
	// ErrStorageUnavailable indicates the secure credential store could not
	// complete an operation. Callers treat the value as absent and continue.
	ErrStorageUnavailable = errors.New("credential store unavailable")

	// ErrNotFound indicates a credential key has no stored value.
	ErrNotFound = errors.New("not found")

	// ErrRefreshTokenInvalid is terminal: the persisted refresh token was
	// rejected by the server and the client must perform a full local logout.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")

	// ErrPINHashUnavailable indicates the PIN digest could not be computed.
	// Login attempts fail closed; the PIN is never transmitted in a weaker form.
	ErrPINHashUnavailable = errors.New("pin hash unavailable")
)

// Well-known server error codes.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeNotFound           = "NOT_FOUND"
	CodeRefreshInvalid     = "REFRESH_INVALID"
)

// APIError represents a non-2xx response from the remote auth server.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("auth api error: %s (%d)", e.Message, e.Status)
}

// NewAPIError creates an APIError from a server response.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// TransportError represents a network failure before any response was
// received. Transport timeouts are not distinguished from other transport
// failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps an underlying network error.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// ValidationError indicates client-side input was rejected before any
// network call was made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a named input.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PlatformReason classifies biometric capability failures.
type PlatformReason string

const (
	ReasonNoHardware  PlatformReason = "no_hardware"
	ReasonNotEnrolled PlatformReason = "not_enrolled"
	ReasonCanceled    PlatformReason = "canceled"
	ReasonFailed      PlatformReason = "failed"
)

// PlatformError represents a device capability failure (biometric hardware
// absent, not enrolled, or the user dismissed the prompt).
type PlatformError struct {
	Reason  PlatformReason
	Message string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform capability error (%s): %s", e.Reason, e.Message)
}

// NewPlatformError creates a PlatformError with the given reason.
func NewPlatformError(reason PlatformReason, message string) *PlatformError {
	return &PlatformError{Reason: reason, Message: message}
}

// IsInvalidCredentials reports whether err is an APIError carrying the
// invalid-credentials code.
func IsInvalidCredentials(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeInvalidCredentials
}

// IsNotFound reports whether err indicates a missing value, either locally
// (ErrNotFound) or from the server (NOT_FOUND code).
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeNotFound
}

// IsStorageUnavailable reports whether err wraps ErrStorageUnavailable.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// Is, As and Wrapf re-export stdlib helpers so callers need a single errors
// import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Wrapf(err error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, err)...)
}
