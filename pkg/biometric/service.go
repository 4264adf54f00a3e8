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

// Package biometric is the entry point to the biometric subsystem.
//
// A Service owns every component: capability detection, the provider
// registry, enrollment, authentication, the audit log and health checks.
// It is built once by NewService and passed explicitly to whatever needs
// it; the package keeps no global state.
//
//	svc, err := biometric.NewService(ctx, biometric.Params{
//		Environment: env,
//		Bridge:      platformBridge,
//		Store:       store,
//	})
//	if err != nil {
//		return err
//	}
//	if _, err := svc.Enroll(ctx, types.ModalityFingerprint, "alice", types.EnrollOptions{}); err != nil {
//		return err
//	}
//	result, err := svc.Authenticate(ctx, "alice", "")
package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeremyhahn/go-biometrics/pkg/audit"
	"github.com/jeremyhahn/go-biometrics/pkg/authn"
	"github.com/jeremyhahn/go-biometrics/pkg/bridge"
	"github.com/jeremyhahn/go-biometrics/pkg/capability"
	"github.com/jeremyhahn/go-biometrics/pkg/enrollment"
	"github.com/jeremyhahn/go-biometrics/pkg/health"
	"github.com/jeremyhahn/go-biometrics/pkg/keylock"
	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/metrics"
	"github.com/jeremyhahn/go-biometrics/pkg/policy"
	"github.com/jeremyhahn/go-biometrics/pkg/provider"
	"github.com/jeremyhahn/go-biometrics/pkg/securestore"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn"
)

var (
	// ErrBridgeRequired is returned for a native environment without a bridge.
	ErrBridgeRequired = errors.New("biometric: native environment requires a bridge")

	// ErrRelyingPartyRequired is returned for a browser environment without
	// a relying party and client.
	ErrRelyingPartyRequired = errors.New("biometric: browser environment requires a relying party and client")
)

// Params contains dependencies for creating a Service.
type Params struct {
	// Environment describes the host (required).
	Environment types.Environment

	// Bridge reaches the platform on native hosts.
	Bridge bridge.Bridge

	// RelyingParty and Client run ceremonies on browser hosts.
	RelyingParty *webauthn.RelyingParty
	Client       webauthn.Client

	// Store persists enrollment state (required).
	Store securestore.Store

	// Policy defaults to policy.Default().
	Policy *policy.Policy

	// Audit defaults to a log sized by Policy.AuditCapacity that mirrors
	// events to Logger.
	Audit *audit.Log

	// DefaultUserID is used when a call names no user.
	DefaultUserID string

	// HealthTimeout bounds each readiness check.
	HealthTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Service is the owned context object of the subsystem.
type Service struct {
	env           types.Environment
	capabilities  []types.Capability
	hwSecure      bool
	providers     *provider.Registry
	store         securestore.Store
	policy        *policy.Policy
	audit         *audit.Log
	enrollments   *enrollment.Manager
	authn         *authn.Manager
	health        *health.Checker
	defaultUserID string
	logger        *slog.Logger
}

// NewService detects capabilities, builds one provider per capability and
// wires the managers around them.
func NewService(ctx context.Context, params Params) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("biometric: secure store is required")
	}
	if params.Policy == nil {
		params.Policy = policy.Default()
	}
	if err := params.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("biometric: %w", err)
	}
	logger := logging.OrDiscard(params.Logger)
	if params.Audit == nil {
		params.Audit = audit.NewLog(params.Policy.AuditCapacity,
			audit.WithSink(audit.NewSlogSink(logger)),
			audit.WithClock(params.Now))
	}

	var factory provider.Factory
	if params.Environment.IsNative {
		if params.Bridge == nil {
			return nil, ErrBridgeRequired
		}
	} else if params.RelyingParty == nil || params.Client == nil {
		return nil, ErrRelyingPartyRequired
	}

	detector := capability.NewDetector(params.Bridge, logger)
	caps, err := detector.Detect(ctx, params.Environment)
	if err != nil {
		return nil, fmt.Errorf("biometric: detect capabilities: %w", err)
	}
	hwSecure := detector.HardwareSecure()

	if params.Environment.IsNative {
		factory = provider.NativeFactory(params.Bridge, hwSecure)
	} else {
		factory = provider.WebAuthnFactory(params.RelyingParty, params.Client)
	}
	registry, err := provider.Build(caps, factory)
	if err != nil {
		return nil, fmt.Errorf("biometric: build providers: %w", err)
	}

	locks := keylock.New()
	enrollments, err := enrollment.NewManager(enrollment.Params{
		Providers: registry,
		Store:     params.Store,
		Policy:    params.Policy,
		Audit:     params.Audit,
		Locks:     locks,
		DeviceID:  params.Environment.DeviceID,
		Logger:    logger,
		Now:       params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("biometric: %w", err)
	}
	if err := enrollments.Load(ctx); err != nil {
		return nil, fmt.Errorf("biometric: load enrollment status: %w", err)
	}

	authenticator, err := authn.NewManager(authn.Params{
		Providers:   registry,
		Enrollments: enrollments,
		Policy:      params.Policy,
		Audit:       params.Audit,
		Locks:       locks,
		Logger:      logger,
		Now:         params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("biometric: %w", err)
	}

	checker := health.NewChecker(params.HealthTimeout)
	for _, p := range registry.Providers() {
		checker.Register("provider."+p.Metadata().Modality.String(), health.ProviderCheck(p))
	}
	checker.Register("storage", health.StorageCheck(params.Store))
	checker.MarkStarted()

	logger.InfoContext(ctx, "biometric service ready",
		slog.String("method", params.Environment.Method()),
		slog.Int("modalities", registry.Len()),
		slog.Bool("hardware_secure", hwSecure))

	return &Service{
		env:           params.Environment,
		capabilities:  caps,
		hwSecure:      hwSecure,
		providers:     registry,
		store:         params.Store,
		policy:        params.Policy,
		audit:         params.Audit,
		enrollments:   enrollments,
		authn:         authenticator,
		health:        checker,
		defaultUserID: params.DefaultUserID,
		logger:        logger,
	}, nil
}

func (s *Service) user(userID string) string {
	if userID == "" {
		return s.defaultUserID
	}
	return userID
}

// ResolveUser returns userID, or the default user when userID is empty.
func (s *Service) ResolveUser(userID string) string {
	return s.user(userID)
}

// IsAvailable reports whether mod can be used. An empty modality asks
// whether any modality can be used.
func (s *Service) IsAvailable(mod types.Modality) bool {
	if mod == "" {
		return s.providers.Len() > 0
	}
	return s.providers.Has(mod)
}

// AvailableTypes returns the usable modalities in priority order.
func (s *Service) AvailableTypes() []types.Modality {
	return s.providers.Modalities()
}

// Capabilities returns the detected capabilities with IsEnrolled set for
// userID.
func (s *Service) Capabilities(ctx context.Context, userID string) []types.Capability {
	userID = s.user(userID)
	out := make([]types.Capability, len(s.capabilities))
	for i, c := range s.capabilities {
		c.IsEnrolled = userID != "" && s.enrollments.IsEnrolled(ctx, c.Modality, userID)
		out[i] = c
	}
	return out
}

// IsEnrolled reports whether userID has an active enrollment for mod.
func (s *Service) IsEnrolled(ctx context.Context, mod types.Modality, userID string) bool {
	return s.enrollments.IsEnrolled(ctx, mod, s.user(userID))
}

// EnrollmentState returns the lifecycle state of (mod, userID).
func (s *Service) EnrollmentState(ctx context.Context, mod types.Modality, userID string) (types.EnrollmentState, error) {
	return s.enrollments.State(ctx, mod, s.user(userID))
}

// Enroll enrolls userID under mod.
func (s *Service) Enroll(ctx context.Context, mod types.Modality, userID string, opts types.EnrollOptions) (*types.EnrollmentRecord, error) {
	return s.enrollments.Enroll(ctx, mod, s.user(userID), opts)
}

// Revoke revokes the enrollment of userID under mod.
func (s *Service) Revoke(ctx context.Context, mod types.Modality, userID string) error {
	return s.enrollments.Revoke(ctx, mod, s.user(userID))
}

// RefreshTemplate refreshes the template of userID under mod and extends
// its expiry.
func (s *Service) RefreshTemplate(ctx context.Context, mod types.Modality, userID string) (*types.EnrollmentRecord, error) {
	return s.enrollments.RefreshTemplate(ctx, mod, s.user(userID))
}

// Authenticate authenticates userID. When preferred is empty the user's
// primary biometric is used.
func (s *Service) Authenticate(ctx context.Context, userID string, preferred types.Modality) (*types.AuthenticationResult, error) {
	return s.AuthenticateRequest(ctx, authn.Request{UserID: userID, Modality: preferred})
}

// AuthenticateRequest authenticates with a caller-supplied challenge.
func (s *Service) AuthenticateRequest(ctx context.Context, req authn.Request) (*types.AuthenticationResult, error) {
	req.UserID = s.user(req.UserID)
	return s.authn.Authenticate(ctx, req)
}

// PrimaryBiometric returns the highest-priority enrolled modality of userID.
func (s *Service) PrimaryBiometric(ctx context.Context, userID string) (types.Modality, error) {
	return s.authn.PrimaryBiometric(ctx, s.user(userID))
}

// LockedUntil returns when the lockout of (userID, mod) lifts, or the
// zero time when the pair is not locked out.
func (s *Service) LockedUntil(mod types.Modality, userID string) time.Time {
	return s.authn.LockedUntil(mod, s.user(userID))
}

// AuditLog returns a copy of the retained audit events, oldest first.
func (s *Service) AuditLog() []*audit.Event {
	return s.audit.Export()
}

// Audit returns the audit log for querying and compliance tooling.
func (s *Service) Audit() *audit.Log {
	return s.audit
}

// Metrics returns the summary exposed to the host UI.
func (s *Service) Metrics(ctx context.Context) types.Metrics {
	return types.Metrics{
		AvailableModalities: s.AvailableTypes(),
		EnrolledCount:       s.enrollments.EnrolledCount(ctx),
		HardwareSecure:      s.hwSecure,
		AuditSize:           s.audit.Len(),
	}
}

// MetricsSource adapts the service to the metrics collector.
func (s *Service) MetricsSource() metrics.Source {
	return func(ctx context.Context) metrics.Snapshot {
		m := s.Metrics(ctx)
		_, evicted := s.audit.Stats()
		return metrics.Snapshot{
			EnrolledCount:       m.EnrolledCount,
			AvailableModalities: len(m.AvailableModalities),
			HardwareSecure:      m.HardwareSecure,
			AuditSize:           m.AuditSize,
			AuditEvicted:        evicted,
		}
	}
}

// Health runs the readiness checks.
func (s *Service) Health(ctx context.Context) health.Report {
	return s.health.Ready(ctx)
}

// Checker returns the health checker for probe endpoints.
func (s *Service) Checker() *health.Checker {
	return s.health
}

// Environment returns the host environment the service was built for.
func (s *Service) Environment() types.Environment {
	return s.env
}

// Policy returns a copy of the active policy.
func (s *Service) Policy() *policy.Policy {
	return s.policy.Clone()
}
