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

// Package authn runs challenge-response authentication against enrolled
// biometrics and enforces the lockout policy.
//
// An attempt resolves the modality, refuses locked out pairs before the
// provider is touched, issues a challenge, waits for the provider ceremony
// within the policy timeout and verifies the response. Only genuine
// verification failures count toward lockout. Every attempt is written to
// the audit log exactly once.
package authn

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeremyhahn/go-biometrics/pkg/audit"
	"github.com/jeremyhahn/go-biometrics/pkg/correlation"
	"github.com/jeremyhahn/go-biometrics/pkg/enrollment"
	"github.com/jeremyhahn/go-biometrics/pkg/keylock"
	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/metrics"
	"github.com/jeremyhahn/go-biometrics/pkg/policy"
	"github.com/jeremyhahn/go-biometrics/pkg/provider"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

const tracerName = "github.com/jeremyhahn/go-biometrics/pkg/authn"

const (
	// ChallengeSize is the length of a generated challenge.
	ChallengeSize = 32

	// MinChallengeSize is the shortest caller-supplied challenge accepted.
	MinChallengeSize = 16
)

// Enrollments is the read side of the enrollment manager.
type Enrollments interface {
	ActiveRecord(ctx context.Context, mod types.Modality, userID string) (*types.EnrollmentRecord, error)
	EnrolledModalities(ctx context.Context, userID string) []types.Modality
}

// Request is a single authentication attempt.
type Request struct {
	// UserID is the user to authenticate (required).
	UserID string `json:"user_id"`

	// Modality selects the biometric. When empty the user's primary
	// biometric is used.
	Modality types.Modality `json:"modality,omitempty"`

	// Challenge is issued to the provider. A random challenge is generated
	// when empty.
	Challenge []byte `json:"challenge,omitempty"`
}

// Params contains dependencies for creating a Manager.
type Params struct {
	Providers   *provider.Registry
	Enrollments Enrollments
	Policy      *policy.Policy
	Audit       audit.Logger

	// Locks must be the locker shared with the enrollment manager so that
	// enroll and authenticate on one pair never interleave.
	Locks *keylock.Locker

	Logger *slog.Logger
	Now    func() time.Time
}

// Manager authenticates users against their enrollments.
type Manager struct {
	providers   *provider.Registry
	enrollments Enrollments
	policy      *policy.Policy
	audit       audit.Logger
	locks       *keylock.Locker
	lockout     *Lockout
	logger      *slog.Logger
	now         func() time.Time
	tracer      trace.Tracer
}

// NewManager creates a Manager with the provided dependencies.
func NewManager(params Params) (*Manager, error) {
	if params.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if params.Enrollments == nil {
		return nil, fmt.Errorf("enrollments are required")
	}
	if params.Policy == nil {
		return nil, fmt.Errorf("policy is required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit logger is required")
	}
	if params.Locks == nil {
		params.Locks = keylock.New()
	}
	if params.Now == nil {
		params.Now = time.Now
	}

	return &Manager{
		providers:   params.Providers,
		enrollments: params.Enrollments,
		policy:      params.Policy,
		audit:       params.Audit,
		locks:       params.Locks,
		lockout:     NewLockout(params.Policy.MaxAttempts, params.Policy.LockoutWindow),
		logger:      logging.OrDiscard(params.Logger).With("component", "authn"),
		now:         func() time.Time { return params.Now().UTC() },
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// PrimaryBiometric returns the highest-priority modality userID holds an
// active enrollment for. Fails with types.ErrNotEnrolled when there is none.
func (m *Manager) PrimaryBiometric(ctx context.Context, userID string) (types.Modality, error) {
	mods := m.enrollments.EnrolledModalities(ctx, userID)
	if len(mods) == 0 {
		return "", types.ErrNotEnrolled
	}
	return mods[0], nil
}

// Failures returns the failures currently counted against (mod, userID).
func (m *Manager) Failures(mod types.Modality, userID string) int {
	return m.lockout.Failures(enrollment.PairKey(mod, userID), m.now())
}

// LockedUntil returns when the lockout on (mod, userID) ends, or the zero
// time when the pair is not locked out.
func (m *Manager) LockedUntil(mod types.Modality, userID string) time.Time {
	return m.lockout.LockedUntil(enrollment.PairKey(mod, userID), m.now())
}

// Authenticate runs one attempt. The returned result is never nil; on
// failure Success is false, Reason names the cause and err carries the
// classified error.
func (m *Manager) Authenticate(ctx context.Context, req Request) (result *types.AuthenticationResult, err error) {
	started := m.now()
	result = &types.AuthenticationResult{
		UserID:    req.UserID,
		Modality:  req.Modality,
		Timestamp: started,
	}

	ctx, _ = correlation.Ensure(ctx)
	ctx, span := m.tracer.Start(ctx, "authn.Authenticate")
	defer func() {
		result.Success = err == nil
		result.Reason = types.Reason(err)
		m.finish(ctx, span, result, started, err)
	}()

	err = m.authenticate(ctx, req, result)
	return result, types.WrapError("authenticate", result.Modality, err)
}

func (m *Manager) authenticate(ctx context.Context, req Request, result *types.AuthenticationResult) error {
	if req.UserID == "" {
		return enrollment.ErrUserRequired
	}
	if req.Modality == "" {
		mod, err := m.PrimaryBiometric(ctx, req.UserID)
		if err != nil {
			return err
		}
		result.Modality = mod
	}
	mod := result.Modality

	p, err := m.providers.Get(mod)
	if err != nil {
		return types.ErrUnsupportedModality
	}
	result.Method = p.Metadata().Method

	challenge, err := m.challenge(req.Challenge)
	if err != nil {
		return err
	}
	result.Challenge = challenge

	key := enrollment.PairKey(mod, req.UserID)
	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return types.Interrupted(ctx, ctx, err)
	}
	defer unlock()

	record, err := m.enrollments.ActiveRecord(ctx, mod, req.UserID)
	if err != nil {
		return err
	}

	if until := m.lockout.LockedUntil(key, m.now()); !until.IsZero() {
		return fmt.Errorf("%w: until %s", types.ErrLockedOut, until.Format(time.RFC3339))
	}

	callCtx, cancel := context.WithTimeout(ctx, m.policy.Timeout)
	resp, err := p.Authenticate(callCtx, record, challenge)
	if err != nil {
		err = types.Interrupted(ctx, callCtx, err)
		cancel()
		return m.record(ctx, key, result, err)
	}
	cancel()

	err = p.Verify(ctx, resp, m.policy)
	if types.InUnitRange(resp.Confidence) {
		result.Confidence = resp.Confidence
	}
	result.Liveness = resp.Liveness
	return m.record(ctx, key, result, err)
}

// challenge validates a caller challenge or generates a random one.
func (m *Manager) challenge(supplied []byte) ([]byte, error) {
	if len(supplied) > 0 {
		if len(supplied) < MinChallengeSize {
			return nil, fmt.Errorf("%w: %d bytes, need at least %d",
				types.ErrInvalidChallenge, len(supplied), MinChallengeSize)
		}
		return append([]byte(nil), supplied...), nil
	}
	c := make([]byte, ChallengeSize)
	if _, err := rand.Read(c); err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}
	return c, nil
}

// record applies the outcome of a provider ceremony to the lockout counter.
// Only verification failures and successes touch the counter.
func (m *Manager) record(ctx context.Context, key string, result *types.AuthenticationResult, err error) error {
	if err != nil && !types.CountsTowardLockout(err) {
		return err
	}
	locked := m.lockout.Record(key, types.AuthenticationAttempt{
		UserID:     result.UserID,
		Modality:   result.Modality,
		Timestamp:  m.now(),
		Success:    err == nil,
		Confidence: result.Confidence,
		Liveness:   result.Liveness,
	})
	if locked {
		metrics.RecordLockout(result.Modality.String())
		m.logger.WarnContext(ctx, "authentication locked out",
			"modality", result.Modality,
			"max_attempts", m.policy.MaxAttempts,
			"window", m.policy.LockoutWindow)
	}
	return err
}

func (m *Manager) finish(ctx context.Context, span trace.Span, result *types.AuthenticationResult, started time.Time, err error) {
	meta := map[string]any{
		"confidence": result.Confidence,
		"liveness":   result.Liveness,
		"method":     result.Method,
	}
	if sc := span.SpanContext(); sc.IsValid() {
		meta["trace_id"] = sc.TraceID().String()
	}

	m.audit.Log(ctx, &audit.Event{
		Type:     audit.TypeAuthentication,
		Modality: result.Modality,
		UserID:   result.UserID,
		Success:  result.Success,
		Severity: audit.SeverityFor(err),
		Reason:   result.Reason,
		Metadata: meta,
	})

	metrics.RecordOperation(metrics.OpAuthenticate, result.Modality.String(), result.Reason,
		m.now().Sub(started).Seconds())

	span.SetAttributes(
		attribute.String("biometric.modality", result.Modality.String()),
		attribute.String("biometric.method", result.Method),
		attribute.Bool("biometric.success", result.Success),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result.Reason)
		m.logger.InfoContext(ctx, "authentication failed",
			"modality", result.Modality, "reason", result.Reason, "error", err)
	} else {
		m.logger.InfoContext(ctx, "authentication succeeded",
			"modality", result.Modality, "confidence", result.Confidence)
	}
	span.End()
}
