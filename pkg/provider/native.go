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

package provider

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-biometrics/pkg/bridge"
	"github.com/jeremyhahn/go-biometrics/pkg/policy"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// NativeProvider delegates capture and matching to the platform bridge.
//
// Trust boundary: the confidence and liveness reported by the bridge are
// taken verbatim. This package cannot verify them; it only applies the
// policy thresholds to what the platform reports.
type NativeProvider struct {
	bridge         bridge.Bridge
	modality       types.Modality
	identifier     string
	hardwareBacked bool
}

// NewNativeProvider creates a provider for capability over b.
func NewNativeProvider(b bridge.Bridge, capability types.Capability, hardwareBacked bool) *NativeProvider {
	return &NativeProvider{
		bridge:         b,
		modality:       capability.Modality,
		identifier:     capability.NativeIdentifier,
		hardwareBacked: hardwareBacked,
	}
}

// Metadata implements Provider.
func (p *NativeProvider) Metadata() Metadata {
	return Metadata{
		Modality:         p.modality,
		Method:           types.MethodNative,
		NativeIdentifier: p.identifier,
		HardwareBacked:   p.hardwareBacked,
	}
}

// Enroll implements Provider.
func (p *NativeProvider) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	resp, err := bridge.Invoke[bridge.EnrollResponse](ctx, p.bridge, bridge.MethodEnroll, map[string]any{
		"modality":   p.modality.String(),
		"identifier": p.identifier,
		"userId":     req.UserID,
		"minSamples": req.MinSamples,
	})
	if err != nil {
		return nil, mapBridgeError(err)
	}
	if !resp.Success || resp.TemplateID == "" {
		return nil, fmt.Errorf("%w: platform rejected enrollment", types.ErrLowQualitySample)
	}

	samples := make([]types.Sample, len(resp.Samples))
	for i, q := range resp.Samples {
		if !types.InUnitRange(q) {
			return nil, fmt.Errorf("%w: sample %d quality %v outside [0,1]", bridge.ErrMalformedResponse, i, q)
		}
		samples[i] = types.Sample{Quality: q}
	}
	return &EnrollResult{TemplateID: resp.TemplateID, Samples: samples}, nil
}

// Authenticate implements Provider.
func (p *NativeProvider) Authenticate(ctx context.Context, record *types.EnrollmentRecord, challenge []byte) (*Response, error) {
	resp, err := bridge.Invoke[bridge.AuthResponse](ctx, p.bridge, bridge.MethodAuthenticate, map[string]any{
		"modality":   p.modality.String(),
		"identifier": p.identifier,
		"templateId": record.TemplateID,
		"challenge":  base64.RawURLEncoding.EncodeToString(challenge),
	})
	if err != nil {
		return nil, mapBridgeError(err)
	}

	out := &Response{
		Modality:        p.modality,
		Method:          types.MethodNative,
		Challenge:       challenge,
		PlatformSuccess: resp.Success,
		Confidence:      resp.Confidence,
		Liveness:        resp.Liveness,
	}
	if resp.Challenge != "" {
		echoed, err := base64.RawURLEncoding.DecodeString(resp.Challenge)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", bridge.ErrMalformedResponse, err)
		}
		out.Echoed = echoed
	}
	return out, nil
}

// Verify implements Provider. The checks run in order: echoed challenge,
// platform verdict, confidence range, liveness, confidence threshold.
func (p *NativeProvider) Verify(_ context.Context, resp *Response, pol *policy.Policy) error {
	if resp.Echoed != nil && subtle.ConstantTimeCompare(resp.Echoed, resp.Challenge) != 1 {
		return types.ErrChallengeMismatch
	}
	if !resp.PlatformSuccess {
		return types.ErrVerificationFailed
	}
	if !types.InUnitRange(resp.Confidence) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", types.ErrVerificationFailed, resp.Confidence)
	}
	if pol.RequireLiveness && !resp.Liveness {
		return types.ErrLivenessRequired
	}
	if !(resp.Confidence >= pol.ConfidenceThreshold) {
		if pol.AllowLivenessOverride && resp.Liveness {
			return nil
		}
		return fmt.Errorf("%w: %.2f < %.2f", types.ErrLowConfidence, resp.Confidence, pol.ConfidenceThreshold)
	}
	return nil
}

// Remove implements Provider.
func (p *NativeProvider) Remove(ctx context.Context, record *types.EnrollmentRecord) error {
	_, err := p.bridge.Call(ctx, bridge.MethodDeleteTemplate, map[string]any{
		"modality":   p.modality.String(),
		"templateId": record.TemplateID,
	})
	return mapBridgeError(err)
}

// UpdateTemplate implements Provider.
func (p *NativeProvider) UpdateTemplate(ctx context.Context, record *types.EnrollmentRecord) (string, error) {
	resp, err := bridge.Invoke[bridge.EnrollResponse](ctx, p.bridge, bridge.MethodRefreshTemplate, map[string]any{
		"modality":   p.modality.String(),
		"templateId": record.TemplateID,
	})
	if err != nil {
		return "", mapBridgeError(err)
	}
	if !resp.Success {
		return "", fmt.Errorf("%w: platform no longer holds template", types.ErrNotEnrolled)
	}
	if resp.TemplateID == "" {
		return record.TemplateID, nil
	}
	return resp.TemplateID, nil
}

// CheckHealth implements Provider.
func (p *NativeProvider) CheckHealth(ctx context.Context) error {
	resp, err := bridge.Invoke[bridge.StatusResponse](ctx, p.bridge, bridge.MethodStatus, map[string]any{
		"modality": p.modality.String(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	if !resp.Ready {
		return fmt.Errorf("%w: %s", ErrUnhealthy, resp.Message)
	}
	return nil
}

// mapBridgeError translates bridge errors into the error taxonomy. Context
// errors pass through so callers can tell a caller cancel from a deadline.
func mapBridgeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bridge.ErrUserCancelled):
		return fmt.Errorf("%w: %v", types.ErrUserCancelled, err)
	default:
		return err
	}
}
