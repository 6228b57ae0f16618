// Package crypto implements PIN validation and hashing for device login.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/appfold/sessionbridge/errors"
)

const (
	pinMinLen = 4
	pinMaxLen = 8
)

// ValidatePIN checks the client-side PIN shape: 4 to 8 ASCII digits.
func ValidatePIN(pin string) error {
	if len(pin) < pinMinLen || len(pin) > pinMaxLen {
		return errors.NewValidationError("pin", "must be 4-8 digits")
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return errors.NewValidationError("pin", "must contain only digits")
		}
	}
	return nil
}

// HashPIN computes the SHA-256 hex digest transmitted to the server. The PIN
// never leaves the device in any weaker form: on any failure the caller must
// abort the login rather than fall back.
func HashPIN(pin string) (string, error) {
	if err := ValidatePIN(pin); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:]), nil
}

// LooksHashed reports whether s has the shape of a SHA-256 hex digest. Used
// to refuse requests that would transmit a raw PIN.
func LooksHashed(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// RandomSecret returns n cryptographically random bytes, used to seal the
// file-backed credential store when no platform keystore is available.
func RandomSecret(n int) ([]byte, error) {
	secret := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, err
	}
	return secret, nil
}
