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
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-biometrics/pkg/policy"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn"
)

// WebAuthnProvider runs WebAuthn ceremonies for one modality. Credentials
// are registered under a user handle scoped to (userID, modality), and every
// assertion requires user verification, which is the biometric.
type WebAuthnProvider struct {
	rp         *webauthn.RelyingParty
	client     webauthn.Client
	modality   types.Modality
	identifier string
}

// NewWebAuthnProvider creates a provider for capability. client carries the
// ceremonies to the authenticator.
func NewWebAuthnProvider(rp *webauthn.RelyingParty, client webauthn.Client, capability types.Capability) *WebAuthnProvider {
	return &WebAuthnProvider{
		rp:         rp,
		client:     client,
		modality:   capability.Modality,
		identifier: capability.NativeIdentifier,
	}
}

// Metadata implements Provider. Platform authenticators keep keys in
// hardware-isolated storage.
func (p *WebAuthnProvider) Metadata() Metadata {
	return Metadata{
		Modality:         p.modality,
		Method:           types.MethodWebAuthn,
		NativeIdentifier: p.identifier,
		HardwareBacked:   true,
	}
}

// Enroll implements Provider. The authenticator performs capture and
// verification internally, so the result is attested.
func (p *WebAuthnProvider) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	user, err := p.rp.User(ctx, req.UserID, p.modality.String(), req.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorageFailure, err)
	}
	options, session, err := p.rp.BeginRegistration(user)
	if err != nil {
		return nil, err
	}
	parsed, err := p.client.Create(ctx, options)
	if err != nil {
		return nil, err
	}
	cred, err := p.rp.FinishRegistration(ctx, user, *session, parsed)
	if err != nil {
		return nil, err
	}
	return &EnrollResult{
		TemplateID: cred.EncodedID(),
		Samples:    []types.Sample{{Quality: 1}},
		Attested:   true,
	}, nil
}

// Authenticate implements Provider.
func (p *WebAuthnProvider) Authenticate(ctx context.Context, record *types.EnrollmentRecord, challenge []byte) (*Response, error) {
	user, err := p.rp.User(ctx, record.UserID, p.modality.String(), "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorageFailure, err)
	}
	options, session, err := p.rp.BeginLogin(user, challenge)
	if errors.Is(err, webauthn.ErrNoCredentials) {
		return nil, fmt.Errorf("%w: no credentials registered", types.ErrNotEnrolled)
	}
	if err != nil {
		return nil, err
	}
	assertion, err := p.client.Get(ctx, options)
	if err != nil {
		return nil, err
	}
	return &Response{
		Modality:  p.modality,
		Method:    types.MethodWebAuthn,
		Challenge: challenge,
		Assertion: assertion,
		session:   session,
		user:      user,
	}, nil
}

// Verify implements Provider. See webauthn.VerifyClientData for the check
// order. A verified assertion carries user verification, so confidence and
// liveness are reported as certain.
func (p *WebAuthnProvider) Verify(ctx context.Context, resp *Response, _ *policy.Policy) error {
	if resp.Assertion == nil || resp.session == nil || resp.user == nil {
		return fmt.Errorf("%w: %v", types.ErrVerificationFailed, webauthn.ErrInvalidResponse)
	}
	if _, err := p.rp.FinishLogin(ctx, resp.user, *resp.session, resp.Challenge, resp.Assertion); err != nil {
		return err
	}
	resp.Confidence = 1
	resp.Liveness = true
	return nil
}

// Remove implements Provider. Only the credential named by the record is
// deleted.
func (p *WebAuthnProvider) Remove(ctx context.Context, record *types.EnrollmentRecord) error {
	id, err := base64.RawURLEncoding.DecodeString(record.TemplateID)
	if err != nil {
		return fmt.Errorf("decode template id: %w", err)
	}
	err = p.rp.RemoveCredential(ctx, record.UserID, p.modality.String(), id)
	if errors.Is(err, webauthn.ErrCredentialNotFound) {
		return nil
	}
	return err
}

// UpdateTemplate implements Provider. Credentials have no expiry at the
// authenticator, so the template ID is unchanged once the credential is
// confirmed to still exist.
func (p *WebAuthnProvider) UpdateTemplate(ctx context.Context, record *types.EnrollmentRecord) (string, error) {
	id, err := base64.RawURLEncoding.DecodeString(record.TemplateID)
	if err != nil {
		return "", fmt.Errorf("decode template id: %w", err)
	}
	user, err := p.rp.User(ctx, record.UserID, p.modality.String(), "")
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrStorageFailure, err)
	}
	if _, ok := user.Credential(id); !ok {
		return "", fmt.Errorf("%w: credential missing", types.ErrNotEnrolled)
	}
	return record.TemplateID, nil
}

// CheckHealth implements Provider.
func (p *WebAuthnProvider) CheckHealth(_ context.Context) error {
	if p.rp == nil || p.client == nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, webauthn.ErrNotConfigured)
	}
	return nil
}
