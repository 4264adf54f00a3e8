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

// Package enrollment manages the lifecycle of biometric enrollments:
//
//	Unenrolled -> Enrolling -> Enrolled -> {Expired, Revoked}
//
// Each (user, modality) pair has one encrypted EnrollmentRecord and an entry
// in the shared enrollment_status map, both kept in a securestore.Store.
// Operations on the same pair are serialized through a keylock.Locker shared
// with the authentication manager. Every enroll outcome is written to the
// audit log before it is returned.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeremyhahn/go-biometrics/pkg/audit"
	"github.com/jeremyhahn/go-biometrics/pkg/correlation"
	"github.com/jeremyhahn/go-biometrics/pkg/keylock"
	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/metrics"
	"github.com/jeremyhahn/go-biometrics/pkg/policy"
	"github.com/jeremyhahn/go-biometrics/pkg/provider"
	"github.com/jeremyhahn/go-biometrics/pkg/securestore"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

const tracerName = "github.com/jeremyhahn/go-biometrics/pkg/enrollment"

// Audit metadata actions.
const (
	ActionEnroll  = "enroll"
	ActionRevoke  = "revoke"
	ActionRefresh = "refresh"
)

// ErrUserRequired is returned when no user ID was given.
var ErrUserRequired = errors.New("user id is required")

// Params contains dependencies for creating a Manager.
type Params struct {
	// Providers holds one provider per available modality (required).
	Providers *provider.Registry

	// Store persists records and the status map (required).
	Store securestore.Store

	// Policy supplies sample, quality, timeout and expiry constraints (required).
	Policy *policy.Policy

	// Audit receives one event per operation (required).
	Audit audit.Logger

	// Locks serializes operations per (user, modality). A private locker is
	// created when nil, which only serializes enrollment against itself.
	Locks *keylock.Locker

	// DeviceID is recorded on every enrollment record.
	DeviceID string

	// Logger is optional.
	Logger *slog.Logger

	// Now overrides the clock.
	Now func() time.Time
}

// Manager runs enrollment, revocation and template refresh.
type Manager struct {
	providers *provider.Registry
	store     securestore.Store
	policy    *policy.Policy
	audit     audit.Logger
	locks     *keylock.Locker
	deviceID  string
	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer

	enrollingMu sync.Mutex
	enrolling   map[string]struct{}

	statusMu sync.Mutex
	status   StatusMap
}

// NewManager creates a Manager with the provided dependencies.
func NewManager(params Params) (*Manager, error) {
	if params.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("secure store is required")
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
		providers: params.Providers,
		store:     params.Store,
		policy:    params.Policy,
		audit:     params.Audit,
		locks:     params.Locks,
		deviceID:  params.DeviceID,
		logger:    logging.OrDiscard(params.Logger).With("component", "enrollment"),
		now:       func() time.Time { return params.Now().UTC() },
		tracer:    otel.Tracer(tracerName),
		enrolling: make(map[string]struct{}),
	}, nil
}

// Load reads the status map from storage. It is called at startup so the
// first query does not pay for the read.
func (m *Manager) Load(ctx context.Context) error {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.status = nil
	_, err := m.loadStatus(ctx)
	return err
}

// Enroll runs the enroll ceremony for (mod, userID) and persists the
// resulting record. A concurrent Enroll for the same pair fails with
// types.ErrEnrollmentInProgress.
func (m *Manager) Enroll(ctx context.Context, mod types.Modality, userID string, opts types.EnrollOptions) (record *types.EnrollmentRecord, err error) {
	op := &operation{action: ActionEnroll, modality: mod, userID: userID, started: m.now(), meta: map[string]any{
		"forced": opts.Force,
	}}
	ctx, _ = correlation.Ensure(ctx)
	ctx, op.span = m.tracer.Start(ctx, "enrollment.Enroll", trace.WithAttributes(
		attribute.String("biometric.modality", mod.String()),
		attribute.Bool("biometric.forced", opts.Force),
	))
	defer func() { m.finish(ctx, op, err) }()

	record, err = m.enroll(ctx, op, mod, userID, opts)
	return record, types.WrapError("enroll", mod, err)
}

func (m *Manager) enroll(ctx context.Context, op *operation, mod types.Modality, userID string, opts types.EnrollOptions) (*types.EnrollmentRecord, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	p, err := m.providers.Get(mod)
	if err != nil {
		return nil, types.ErrUnsupportedModality
	}
	op.meta["method"] = p.Metadata().Method

	key := PairKey(mod, userID)
	if !m.beginEnrolling(key) {
		return nil, types.ErrEnrollmentInProgress
	}
	defer m.endEnrolling(key)

	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return nil, types.Interrupted(ctx, ctx, err)
	}
	defer unlock()

	now := m.now()
	prev, err := m.loadRecord(ctx, mod, userID)
	if err != nil {
		return nil, err
	}
	if prev.Active(now) && !opts.Force {
		return nil, types.ErrAlreadyEnrolled
	}

	callCtx, cancel := context.WithTimeout(ctx, m.policy.Timeout)
	res, err := p.Enroll(callCtx, provider.EnrollRequest{
		UserID:      userID,
		DisplayName: opts.DisplayName,
		MinSamples:  m.policy.MinSamples,
	})
	if err != nil {
		err = types.Interrupted(ctx, callCtx, err)
		cancel()
		return nil, err
	}
	cancel()

	candidate := &types.EnrollmentRecord{UserID: userID, Modality: mod, TemplateID: res.TemplateID}
	if err := ctx.Err(); err != nil {
		m.discard(ctx, p, candidate)
		return nil, types.Interrupted(ctx, ctx, err)
	}

	quality := types.AggregateQuality(res.Samples)
	op.meta["quality"] = quality
	op.meta["samples"] = len(res.Samples)
	if !res.Attested {
		if len(res.Samples) < m.policy.MinSamples {
			m.discard(ctx, p, candidate)
			return nil, fmt.Errorf("%w: collected %d of %d samples",
				types.ErrLowQualitySample, len(res.Samples), m.policy.MinSamples)
		}
		if quality < m.policy.QualityThreshold {
			m.discard(ctx, p, candidate)
			return nil, fmt.Errorf("%w: aggregate %.2f below %.2f",
				types.ErrLowQualitySample, quality, m.policy.QualityThreshold)
		}
	}

	record := &types.EnrollmentRecord{
		UserID:       userID,
		Modality:     mod,
		TemplateID:   res.TemplateID,
		EnrolledAt:   now,
		ExpiresAt:    now.Add(m.policy.TemplateRefreshInterval),
		QualityScore: quality,
		DeviceID:     m.deviceID,
		Metadata:     maps.Clone(opts.Metadata),
	}
	if err := m.persist(ctx, prev, record); err != nil {
		m.discard(ctx, p, candidate)
		return nil, err
	}

	if prev != nil && prev.RevokedAt == nil && prev.TemplateID != record.TemplateID {
		m.discard(ctx, p, prev)
	}
	return record, nil
}

// discard removes a provider template that will not be referenced by any
// record. Failures are logged only.
func (m *Manager) discard(ctx context.Context, p provider.Provider, rec *types.EnrollmentRecord) {
	if err := p.Remove(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.WarnContext(ctx, "failed to remove provider template",
			"modality", rec.Modality, "error", err)
	}
}

func (m *Manager) beginEnrolling(key string) bool {
	m.enrollingMu.Lock()
	defer m.enrollingMu.Unlock()
	if _, busy := m.enrolling[key]; busy {
		return false
	}
	m.enrolling[key] = struct{}{}
	return true
}

func (m *Manager) endEnrolling(key string) {
	m.enrollingMu.Lock()
	defer m.enrollingMu.Unlock()
	delete(m.enrolling, key)
}

func (m *Manager) isEnrolling(key string) bool {
	m.enrollingMu.Lock()
	defer m.enrollingMu.Unlock()
	_, busy := m.enrolling[key]
	return busy
}

// Revoke marks the enrollment for (mod, userID) revoked and asks the
// provider to drop its template. The local revocation stands even when the
// provider cannot be reached.
func (m *Manager) Revoke(ctx context.Context, mod types.Modality, userID string) (err error) {
	op := &operation{action: ActionRevoke, modality: mod, userID: userID, started: m.now(), meta: map[string]any{}}
	ctx, _ = correlation.Ensure(ctx)
	ctx, op.span = m.tracer.Start(ctx, "enrollment.Revoke", trace.WithAttributes(
		attribute.String("biometric.modality", mod.String()),
	))
	defer func() { m.finish(ctx, op, err) }()

	return types.WrapError("revoke", mod, m.revoke(ctx, mod, userID))
}

func (m *Manager) revoke(ctx context.Context, mod types.Modality, userID string) error {
	if userID == "" {
		return ErrUserRequired
	}
	unlock, err := m.locks.Lock(ctx, PairKey(mod, userID))
	if err != nil {
		return types.Interrupted(ctx, ctx, err)
	}
	defer unlock()

	prev, err := m.loadRecord(ctx, mod, userID)
	if err != nil {
		return err
	}
	if prev == nil || prev.RevokedAt != nil {
		return types.ErrNotEnrolled
	}

	now := m.now()
	revoked := *prev
	revoked.RevokedAt = &now
	if err := m.persist(ctx, prev, &revoked); err != nil {
		return err
	}
	if p, err := m.providers.Get(mod); err == nil {
		m.discard(ctx, p, prev)
	}
	return nil
}

// RefreshTemplate asks the provider to refresh the template and extends the
// record's expiry by the template refresh interval. Expired records may be
// refreshed; revoked ones may not.
func (m *Manager) RefreshTemplate(ctx context.Context, mod types.Modality, userID string) (record *types.EnrollmentRecord, err error) {
	op := &operation{action: ActionRefresh, modality: mod, userID: userID, started: m.now(), meta: map[string]any{}}
	ctx, _ = correlation.Ensure(ctx)
	ctx, op.span = m.tracer.Start(ctx, "enrollment.RefreshTemplate", trace.WithAttributes(
		attribute.String("biometric.modality", mod.String()),
	))
	defer func() { m.finish(ctx, op, err) }()

	record, err = m.refresh(ctx, mod, userID)
	return record, types.WrapError("refresh", mod, err)
}

func (m *Manager) refresh(ctx context.Context, mod types.Modality, userID string) (*types.EnrollmentRecord, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	p, err := m.providers.Get(mod)
	if err != nil {
		return nil, types.ErrUnsupportedModality
	}
	unlock, err := m.locks.Lock(ctx, PairKey(mod, userID))
	if err != nil {
		return nil, types.Interrupted(ctx, ctx, err)
	}
	defer unlock()

	prev, err := m.loadRecord(ctx, mod, userID)
	if err != nil {
		return nil, err
	}
	if prev == nil || prev.RevokedAt != nil {
		return nil, types.ErrNotEnrolled
	}

	callCtx, cancel := context.WithTimeout(ctx, m.policy.Timeout)
	templateID, err := p.UpdateTemplate(callCtx, prev)
	if err != nil {
		err = types.Interrupted(ctx, callCtx, err)
		cancel()
		return nil, err
	}
	cancel()

	refreshed := *prev
	refreshed.TemplateID = templateID
	refreshed.ExpiresAt = m.now().Add(m.policy.TemplateRefreshInterval)
	if err := m.persist(ctx, prev, &refreshed); err != nil {
		return nil, err
	}
	return &refreshed, nil
}

// IsEnrolled reports whether (mod, userID) has an active, unexpired
// enrollment. Storage errors report false.
func (m *Manager) IsEnrolled(ctx context.Context, mod types.Modality, userID string) bool {
	status, err := m.snapshot(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to read enrollment status", "error", err)
		return false
	}
	e, ok := status.get(mod, userID)
	return ok && e.Active(m.now())
}

// State returns the lifecycle state of (mod, userID).
func (m *Manager) State(ctx context.Context, mod types.Modality, userID string) (types.EnrollmentState, error) {
	if m.isEnrolling(PairKey(mod, userID)) {
		return types.StateEnrolling, nil
	}
	rec, err := m.loadRecord(ctx, mod, userID)
	if err != nil {
		return "", err
	}
	return rec.State(m.now()), nil
}

// ActiveRecord returns the active record for (mod, userID). Fails with
// types.ErrNotEnrolled when the record is missing, expired or revoked.
func (m *Manager) ActiveRecord(ctx context.Context, mod types.Modality, userID string) (*types.EnrollmentRecord, error) {
	rec, err := m.loadRecord(ctx, mod, userID)
	if err != nil {
		return nil, err
	}
	switch rec.State(m.now()) {
	case types.StateEnrolled:
		return rec, nil
	case types.StateExpired:
		return nil, fmt.Errorf("%w: enrollment expired", types.ErrNotEnrolled)
	case types.StateRevoked:
		return nil, fmt.Errorf("%w: enrollment revoked", types.ErrNotEnrolled)
	default:
		return nil, types.ErrNotEnrolled
	}
}

// EnrolledModalities returns the modalities userID holds an active
// enrollment for, restricted to available providers, in priority order.
func (m *Manager) EnrolledModalities(ctx context.Context, userID string) []types.Modality {
	status, err := m.snapshot(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to read enrollment status", "error", err)
		return nil
	}
	now := m.now()
	var out []types.Modality
	for mod, users := range status {
		if e, ok := users[userID]; ok && e.Active(now) && m.providers.Has(mod) {
			out = append(out, mod)
		}
	}
	types.SortByPriority(out)
	return out
}

// EnrolledCount returns the number of active (user, modality) enrollments.
func (m *Manager) EnrolledCount(ctx context.Context) int {
	status, err := m.snapshot(ctx)
	if err != nil {
		return 0
	}
	now := m.now()
	n := 0
	for _, users := range status {
		for _, e := range users {
			if e.Active(now) {
				n++
			}
		}
	}
	return n
}

// Status returns a copy of the enrollment status map.
func (m *Manager) Status(ctx context.Context) (StatusMap, error) {
	return m.snapshot(ctx)
}

// operation carries the bookkeeping shared by every audited call.
type operation struct {
	action   string
	modality types.Modality
	userID   string
	started  time.Time
	span     trace.Span
	meta     map[string]any
}

// finish writes the audit event, records metrics and closes the span.
func (m *Manager) finish(ctx context.Context, op *operation, err error) {
	reason := types.Reason(err)
	op.meta["action"] = op.action
	if sc := op.span.SpanContext(); sc.IsValid() {
		op.meta["trace_id"] = sc.TraceID().String()
	}

	m.audit.Log(ctx, &audit.Event{
		Type:     audit.TypeEnrollment,
		Modality: op.modality,
		UserID:   op.userID,
		Success:  err == nil,
		Severity: audit.SeverityFor(err),
		Reason:   reason,
		Metadata: op.meta,
	})

	metricOp := map[string]string{
		ActionEnroll:  metrics.OpEnroll,
		ActionRevoke:  metrics.OpRevoke,
		ActionRefresh: metrics.OpRefresh,
	}[op.action]
	metrics.RecordOperation(metricOp, op.modality.String(), reason, m.now().Sub(op.started).Seconds())

	if err != nil {
		op.span.RecordError(err)
		op.span.SetStatus(codes.Error, reason)
		m.logger.InfoContext(ctx, "enrollment operation failed",
			"action", op.action, "modality", op.modality, "reason", reason, "error", err)
	} else {
		m.logger.InfoContext(ctx, "enrollment operation completed",
			"action", op.action, "modality", op.modality)
	}
	op.span.End()
}
