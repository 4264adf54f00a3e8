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

// Package provider implements the biometric providers. A Provider performs
// the ceremonies for exactly one modality. There are two implementations:
// NativeProvider, which delegates capture and matching to the platform
// bridge, and WebAuthnProvider, which runs public-key credential ceremonies
// against a platform authenticator.
package provider

import (
	"context"
	"errors"

	gowebauthn "github.com/go-webauthn/webauthn/webauthn"
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-biometrics/pkg/policy"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn"
)

// ErrUnhealthy is returned by CheckHealth when the provider cannot serve
// ceremonies.
var ErrUnhealthy = errors.New("provider unhealthy")

// Metadata describes a provider.
type Metadata struct {
	Modality         types.Modality `json:"modality"`
	Method           string         `json:"method"`
	NativeIdentifier string         `json:"native_identifier"`
	HardwareBacked   bool           `json:"hardware_backed"`
}

// EnrollRequest is the input to an enroll ceremony.
type EnrollRequest struct {
	UserID      string
	DisplayName string
	MinSamples  int
}

// EnrollResult is the outcome of an enroll ceremony.
type EnrollResult struct {
	// TemplateID is the opaque handle for the enrolled reference.
	TemplateID string

	// Samples holds one quality score per captured sample.
	Samples []types.Sample

	// Attested is true when the authenticator verified the user itself and
	// no sample count applies.
	Attested bool
}

// Response is the raw outcome of an authenticate ceremony, before Verify.
type Response struct {
	Modality types.Modality
	Method   string

	// Challenge is the challenge issued for this ceremony.
	Challenge []byte

	// Echoed is the challenge the platform reported back (native only).
	Echoed []byte

	// PlatformSuccess is the platform's own match verdict (native only).
	PlatformSuccess bool

	Confidence float64
	Liveness   bool

	// Assertion is the authenticator response (WebAuthn only).
	Assertion *protocol.ParsedCredentialAssertionData

	session *gowebauthn.SessionData
	user    *webauthn.User
}

// Provider performs ceremonies for one modality. Calls that prompt the user
// block until the ceremony completes or ctx is done.
type Provider interface {
	// Metadata describes the provider.
	Metadata() Metadata

	// Enroll runs the enroll ceremony for req.UserID.
	Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error)

	// Authenticate issues challenge and returns the unverified response.
	Authenticate(ctx context.Context, record *types.EnrollmentRecord, challenge []byte) (*Response, error)

	// Verify checks resp against the issued challenge and pol. A nil error
	// means the attempt succeeded.
	Verify(ctx context.Context, resp *Response, pol *policy.Policy) error

	// Remove deletes the reference behind record.
	Remove(ctx context.Context, record *types.EnrollmentRecord) error

	// UpdateTemplate refreshes the reference behind record and returns its
	// possibly new template ID.
	UpdateTemplate(ctx context.Context, record *types.EnrollmentRecord) (string, error)

	// CheckHealth returns nil when the provider can serve ceremonies.
	CheckHealth(ctx context.Context) error
}
