// Package platform abstracts the device capabilities the session layer
// depends on: the biometric/device-credential prompt and basic platform
// identification. Real implementations live in the platform glue; this
// package defines the contracts and test fakes.
package platform

import (
	"context"
	"runtime"

	"github.com/appfold/sessionbridge/errors"
)

// BiometricPrompter requests device biometric or credential approval from
// the user. Authenticate returns nil on approval and a
// *errors.PlatformError classifying the failure otherwise.
type BiometricPrompter interface {
	Authenticate(ctx context.Context, reason string) error
}

// Info describes the platform the shell is running on.
type Info struct {
	Name      string `json:"platform"`
	OSVersion string `json:"os_version,omitempty"`
}

// CurrentInfo returns the platform name for the running process. Mobile
// embedders override this with the host platform identity.
func CurrentInfo() Info {
	name := runtime.GOOS
	switch name {
	case "darwin":
		name = "ios"
	}
	return Info{Name: name}
}

// StaticPrompter is a BiometricPrompter fake with a fixed outcome.
type StaticPrompter struct {
	// Err is returned from every Authenticate call. Nil means approval.
	Err error
}

func (p *StaticPrompter) Authenticate(context.Context, string) error {
	return p.Err
}

// Denied builds a StaticPrompter that fails with the given reason.
func Denied(reason errors.PlatformReason, message string) *StaticPrompter {
	return &StaticPrompter{Err: errors.NewPlatformError(reason, message)}
}

// Approved builds a StaticPrompter that always approves.
func Approved() *StaticPrompter { return &StaticPrompter{} }
