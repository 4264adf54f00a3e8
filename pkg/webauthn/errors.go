// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biometrics.
//
// go-biometrics is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package webauthn

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// Relying party errors. Ceremony failures that reach the authentication
// manager also wrap a sentinel from pkg/types so lockout accounting sees
// them.
var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrNoCredentials      = errors.New("user has no registered credentials")
	ErrInvalidResponse    = errors.New("invalid authenticator response")
	ErrNotConfigured      = errors.New("webauthn relying party not configured")

	// ErrClonedAuthenticator is returned when the sign counter went backwards.
	ErrClonedAuthenticator = fmt.Errorf("%w: cloned authenticator detected", types.ErrVerificationFailed)

	// ErrUserNotVerified is returned when the authenticator did not perform
	// user verification, i.e. no biometric was checked.
	ErrUserNotVerified = fmt.Errorf("%w: user not verified", types.ErrVerificationFailed)
)

// CeremonyError records which relying party step failed.
type CeremonyError struct {
	Step string
	Err  error
}

func (e *CeremonyError) Error() string {
	return "webauthn " + e.Step + ": " + e.Err.Error()
}

func (e *CeremonyError) Unwrap() error {
	return e.Err
}

// WrapError attaches step to err. A nil err stays nil.
func WrapError(step string, err error) error {
	if err == nil {
		return nil
	}
	return &CeremonyError{Step: step, Err: err}
}

// verificationFailed marks a library rejection as a failed verification.
func verificationFailed(step string, err error) error {
	return WrapError(step, fmt.Errorf("%w: %v", types.ErrVerificationFailed, err))
}
