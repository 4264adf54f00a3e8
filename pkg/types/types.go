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

// Package types contains the shared data model of the biometric subsystem:
// modalities, capabilities, enrollment records, authentication results and
// the host environment descriptor. This package has no dependencies on the
// other go-biometrics packages to prevent import cycles.
package types

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Modality
// =============================================================================

// Modality is a biometric input method.
type Modality string

const (
	ModalityFingerprint Modality = "fingerprint"
	ModalityFace        Modality = "face"
	ModalityVoice       Modality = "voice"
	ModalityIris        Modality = "iris"
)

// modalityPriority holds the fixed preference order. Lower is preferred.
var modalityPriority = map[Modality]int{
	ModalityFingerprint: 1,
	ModalityFace:        2,
	ModalityIris:        3,
	ModalityVoice:       4,
}

// AllModalities returns every known modality in priority order.
func AllModalities() []Modality {
	return []Modality{
		ModalityFingerprint,
		ModalityFace,
		ModalityIris,
		ModalityVoice,
	}
}

// String returns the modality name.
func (m Modality) String() string {
	return string(m)
}

// Priority returns the fixed priority of the modality. Unknown modalities
// sort last.
func (m Modality) Priority() int {
	if p, ok := modalityPriority[m]; ok {
		return p
	}
	return len(modalityPriority) + 1
}

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	_, ok := modalityPriority[m]
	return ok
}

// ParseModality parses a modality name (case-insensitive).
func ParseModality(s string) (Modality, error) {
	m := Modality(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedModality, s)
	}
	return m, nil
}

// SortByPriority sorts modalities in place, most preferred first.
func SortByPriority(modalities []Modality) {
	sort.SliceStable(modalities, func(i, j int) bool {
		return modalities[i].Priority() < modalities[j].Priority()
	})
}

// =============================================================================
// Environment & Capability
// =============================================================================

// Environment describes the host the subsystem runs in. It is supplied by
// the host at startup.
type Environment struct {
	// IsNative is true when a platform bridge to OS biometric sensors exists.
	IsNative bool `json:"is_native" env:"BIOMETRIC_NATIVE"`

	// PlatformOS is the operating system name (ios, android, windows, macos, linux).
	PlatformOS string `json:"platform_os" env:"BIOMETRIC_PLATFORM_OS"`

	// DeviceID identifies the device. It is recorded on enrollment records
	// and mixed into the storage key derivation.
	DeviceID string `json:"device_id" env:"BIOMETRIC_DEVICE_ID"`

	// UserAgent is the browser user agent for non-native environments.
	UserAgent string `json:"user_agent,omitempty" env:"BIOMETRIC_USER_AGENT"`

	// PlatformAuthenticator reports whether a user-verifying platform
	// authenticator is available to the browser.
	PlatformAuthenticator bool `json:"platform_authenticator" env:"BIOMETRIC_PLATFORM_AUTHENTICATOR"`
}

// Key returns a stable identifier for caching detection results.
func (e Environment) Key() string {
	return fmt.Sprintf("%t|%s|%s|%s|%t", e.IsNative, strings.ToLower(e.PlatformOS),
		e.DeviceID, e.UserAgent, e.PlatformAuthenticator)
}

// Method returns the authentication method name used by this environment.
func (e Environment) Method() string {
	if e.IsNative {
		return MethodNative
	}
	return MethodWebAuthn
}

// Capability is a usable modality discovered at startup. Read-only after
// detection.
type Capability struct {
	Modality         Modality `json:"modality"`
	NativeIdentifier string   `json:"native_identifier"`
	Priority         int      `json:"priority"`
	IsEnrolled       bool     `json:"is_enrolled"`
}

// Authentication method names.
const (
	MethodNative   = "native"
	MethodWebAuthn = "webauthn"
)

// =============================================================================
// Enrollment
// =============================================================================

// EnrollmentState is the lifecycle state of a (user, modality) pair.
type EnrollmentState string

const (
	StateUnenrolled EnrollmentState = "unenrolled"
	StateEnrolling  EnrollmentState = "enrolling"
	StateEnrolled   EnrollmentState = "enrolled"
	StateExpired    EnrollmentState = "expired"
	StateRevoked    EnrollmentState = "revoked"
)

// EnrollmentRecord is the persisted reference for an enrolled biometric.
// TemplateID is an opaque handle owned by the provider and never the raw
// biometric sample.
type EnrollmentRecord struct {
	UserID       string            `json:"user_id"`
	Modality     Modality          `json:"modality"`
	TemplateID   string            `json:"template_id"`
	EnrolledAt   time.Time         `json:"enrolled_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	QualityScore float64           `json:"quality_score"`
	DeviceID     string            `json:"device_id"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RevokedAt    *time.Time        `json:"revoked_at,omitempty"`
}

// Active reports whether the record is neither expired nor revoked at now.
func (r *EnrollmentRecord) Active(now time.Time) bool {
	if r == nil || r.RevokedAt != nil {
		return false
	}
	return now.Before(r.ExpiresAt)
}

// State returns the lifecycle state of the record at now.
func (r *EnrollmentRecord) State(now time.Time) EnrollmentState {
	switch {
	case r == nil:
		return StateUnenrolled
	case r.RevokedAt != nil:
		return StateRevoked
	case !now.Before(r.ExpiresAt):
		return StateExpired
	default:
		return StateEnrolled
	}
}

// EnrollOptions controls a single enrollment.
type EnrollOptions struct {
	// Force replaces an existing active enrollment.
	Force bool `json:"force"`

	// DisplayName is shown by browser authenticators during registration.
	DisplayName string `json:"display_name,omitempty"`

	// Metadata is copied onto the enrollment record.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sample is a single captured enrollment sample.
type Sample struct {
	Quality float64 `json:"quality"`
}

// InUnitRange reports whether v is a number in [0, 1]. NaN is rejected.
func InUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// AggregateQuality returns the mean quality of the samples, or zero when
// there are none.
func AggregateQuality(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Quality
	}
	return sum / float64(len(samples))
}

// =============================================================================
// Authentication
// =============================================================================

// AuthenticationResult is returned for every authentication attempt that
// reached the provider.
type AuthenticationResult struct {
	UserID     string    `json:"user_id"`
	Modality   Modality  `json:"modality"`
	Success    bool      `json:"success"`
	Confidence float64   `json:"confidence"`
	Liveness   bool      `json:"liveness"`
	Method     string    `json:"method"`
	Challenge  []byte    `json:"challenge,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AuthenticationAttempt is the transient input to lockout evaluation.
type AuthenticationAttempt struct {
	UserID     string
	Modality   Modality
	Timestamp  time.Time
	Success    bool
	Confidence float64
	Liveness   bool
}

// Metrics is the summary exposed to the host UI.
type Metrics struct {
	AvailableModalities []Modality `json:"available_modalities"`
	EnrolledCount       int        `json:"enrolled_count"`
	HardwareSecure      bool       `json:"hardware_secure"`
	AuditSize           int        `json:"audit_size"`
}
