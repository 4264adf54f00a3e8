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

package types

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for enrollment and authentication. Every error returned by
// the subsystem wraps exactly one of these.
var (
	// ErrUnsupportedModality is returned when no provider exists for a modality.
	ErrUnsupportedModality = errors.New("unsupported modality")

	// ErrAlreadyEnrolled is returned when an active enrollment exists and
	// force was not requested.
	ErrAlreadyEnrolled = errors.New("already enrolled")

	// ErrEnrollmentInProgress is returned when another enrollment for the same
	// user and modality is running.
	ErrEnrollmentInProgress = errors.New("enrollment in progress")

	// ErrNotEnrolled is returned when no active, unexpired enrollment exists.
	ErrNotEnrolled = errors.New("not enrolled")

	// ErrLowQualitySample is returned when the aggregate sample quality is
	// below the policy threshold.
	ErrLowQualitySample = errors.New("low quality sample")

	// ErrTimeout is returned when a provider ceremony exceeded the policy timeout.
	ErrTimeout = errors.New("timeout")

	// ErrUserCancelled is returned when the caller or user cancelled the ceremony.
	ErrUserCancelled = errors.New("user cancelled")

	// ErrLockedOut is returned when the failed-attempt counter reached the
	// policy maximum inside the lockout window.
	ErrLockedOut = errors.New("locked out")

	// ErrChallengeMismatch is returned when the assertion challenge differs
	// from the issued challenge.
	ErrChallengeMismatch = errors.New("challenge mismatch")

	// ErrTypeMismatch is returned when the assertion type is not webauthn.get.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrOriginMismatch is returned when the assertion origin is not expected.
	ErrOriginMismatch = errors.New("origin mismatch")

	// ErrStorageFailure is returned when secure storage could not be read or written.
	ErrStorageFailure = errors.New("storage failure")

	// ErrLowConfidence is returned when the platform match confidence is
	// below the policy threshold.
	ErrLowConfidence = errors.New("confidence below threshold")

	// ErrLivenessRequired is returned when policy requires liveness and the
	// platform did not confirm it.
	ErrLivenessRequired = errors.New("liveness not confirmed")

	// ErrInvalidChallenge is returned when a caller-supplied challenge is
	// shorter than the minimum challenge size.
	ErrInvalidChallenge = errors.New("invalid challenge")

	// ErrVerificationFailed is returned when the biometric or assertion
	// signature did not verify.
	ErrVerificationFailed = errors.New("verification failed")
)

// Error wraps a subsystem error with the operation that produced it.
type Error struct {
	Op       string   // Operation that failed
	Modality Modality // Modality involved, if any
	Err      error    // Underlying error
}

// Error returns the error message.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Modality != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Modality, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Err.Error()
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error for the given operation.
func NewError(op string, modality Modality, err error) error {
	return &Error{
		Op:       op,
		Modality: modality,
		Err:      err,
	}
}

// WrapError wraps err with an operation name if it's not nil.
func WrapError(op string, modality Modality, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, modality, err)
}

// Reason returns the short machine-readable reason for err, suitable for
// audit records and API responses.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedModality):
		return "unsupported_modality"
	case errors.Is(err, ErrAlreadyEnrolled):
		return "already_enrolled"
	case errors.Is(err, ErrEnrollmentInProgress):
		return "enrollment_in_progress"
	case errors.Is(err, ErrNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, ErrLowQualitySample):
		return "low_quality_sample"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUserCancelled):
		return "user_cancelled"
	case errors.Is(err, ErrLockedOut):
		return "locked_out"
	case errors.Is(err, ErrChallengeMismatch):
		return "challenge_mismatch"
	case errors.Is(err, ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, ErrOriginMismatch):
		return "origin_mismatch"
	case errors.Is(err, ErrStorageFailure):
		return "storage_failure"
	case errors.Is(err, ErrLowConfidence):
		return "low_confidence"
	case errors.Is(err, ErrLivenessRequired):
		return "liveness_required"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrInvalidChallenge):
		return "invalid_challenge"
	default:
		return "internal_error"
	}
}

// reasons maps each reason string back to its sentinel.
var reasons = map[string]error{
	"unsupported_modality":   ErrUnsupportedModality,
	"already_enrolled":       ErrAlreadyEnrolled,
	"enrollment_in_progress": ErrEnrollmentInProgress,
	"not_enrolled":           ErrNotEnrolled,
	"low_quality_sample":     ErrLowQualitySample,
	"timeout":                ErrTimeout,
	"user_cancelled":         ErrUserCancelled,
	"locked_out":             ErrLockedOut,
	"challenge_mismatch":     ErrChallengeMismatch,
	"type_mismatch":          ErrTypeMismatch,
	"origin_mismatch":        ErrOriginMismatch,
	"storage_failure":        ErrStorageFailure,
	"low_confidence":         ErrLowConfidence,
	"liveness_required":      ErrLivenessRequired,
	"verification_failed":    ErrVerificationFailed,
	"invalid_challenge":      ErrInvalidChallenge,
}

// FromReason returns the sentinel named by reason, or nil when reason is
// not part of the taxonomy. It inverts Reason for errors received over
// the wire.
func FromReason(reason string) error {
	return reasons[reason]
}

// IsRetryable reports whether the caller may retry immediately. Lockout and
// protocol mismatches are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLowQualitySample) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUserCancelled) ||
		errors.Is(err, ErrEnrollmentInProgress)
}

// CountsTowardLockout reports whether err is a genuine verification failure
// that increments the failed-attempt counter.
func CountsTowardLockout(err error) bool {
	return errors.Is(err, ErrChallengeMismatch) ||
		errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrOriginMismatch) ||
		errors.Is(err, ErrLowConfidence) ||
		errors.Is(err, ErrLivenessRequired) ||
		errors.Is(err, ErrVerificationFailed)
}

// IsSecurityRelevant reports whether err was caused by a security rule and
// must be audited at an elevated severity.
func IsSecurityRelevant(err error) bool {
	return errors.Is(err, ErrLockedOut) || CountsTowardLockout(err)
}

// Interrupted classifies a ceremony error caused by context termination.
// parent is the caller's context and call is the context bounded by the
// policy timeout. A caller cancellation becomes ErrUserCancelled, and an
// expired deadline becomes ErrTimeout. Errors already in the taxonomy are
// returned unchanged.
func Interrupted(parent, call context.Context, err error) error {
	if err == nil || Reason(err) != "internal_error" {
		return err
	}
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return fmt.Errorf("%w: %v", ErrUserCancelled, err)
	case parent.Err() != nil, errors.Is(call.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUserCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
