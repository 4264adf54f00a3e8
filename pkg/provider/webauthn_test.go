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
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biometrics/pkg/policy"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn/webauthntest"
)

var face = types.Capability{
	Modality:         types.ModalityFace,
	NativeIdentifier: "webauthn.platform.face",
	Priority:         2,
}

func newWebAuthnProvider(t *testing.T) (*WebAuthnProvider, *webauthn.VirtualClient) {
	t.Helper()
	rp, client := webauthntest.New(t)
	return NewWebAuthnProvider(rp, client, face), client
}

func enrollWebAuthn(t *testing.T, p *WebAuthnProvider, userID string) *types.EnrollmentRecord {
	t.Helper()
	res, err := p.Enroll(context.Background(), EnrollRequest{UserID: userID, MinSamples: 3})
	require.NoError(t, err)
	return &types.EnrollmentRecord{UserID: userID, Modality: types.ModalityFace, TemplateID: res.TemplateID}
}

func TestWebAuthnProvider_EnrollIsAttested(t *testing.T) {
	p, _ := newWebAuthnProvider(t)
	res, err := p.Enroll(context.Background(), EnrollRequest{UserID: "u1", MinSamples: 3})
	require.NoError(t, err)
	assert.True(t, res.Attested)
	assert.NotEmpty(t, res.TemplateID)
	assert.Equal(t, 1.0, types.AggregateQuality(res.Samples))
}

func TestWebAuthnProvider_AuthenticateAndVerify(t *testing.T) {
	p, _ := newWebAuthnProvider(t)
	record := enrollWebAuthn(t, p, "u1")

	resp, err := p.Authenticate(context.Background(), record, challenge())
	require.NoError(t, err)
	assert.Equal(t, types.MethodWebAuthn, resp.Method)
	assert.Equal(t, protocol.VerificationRequired, protocol.UserVerificationRequirement(resp.session.UserVerification))

	require.NoError(t, p.Verify(context.Background(), resp, policy.Default()))
	assert.Equal(t, 1.0, resp.Confidence)
	assert.True(t, resp.Liveness)
}

func TestWebAuthnProvider_AlteredChallenge(t *testing.T) {
	p, client := newWebAuthnProvider(t)
	record := enrollWebAuthn(t, p, "u1")

	client.TamperAssertion = func(a *protocol.ParsedCredentialAssertionData) {
		raw := []byte(a.Response.CollectedClientData.Challenge)
		if raw[0] == 'A' {
			raw[0] = 'B'
		} else {
			raw[0] = 'A'
		}
		a.Response.CollectedClientData.Challenge = string(raw)
	}

	resp, err := p.Authenticate(context.Background(), record, challenge())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Verify(context.Background(), resp, policy.Default()), types.ErrChallengeMismatch)
}

func TestWebAuthnProvider_NotEnrolled(t *testing.T) {
	p, _ := newWebAuthnProvider(t)
	_, err := p.Authenticate(context.Background(), &types.EnrollmentRecord{UserID: "ghost"}, challenge())
	assert.ErrorIs(t, err, types.ErrNotEnrolled)
}

func TestWebAuthnProvider_RemoveAndUpdate(t *testing.T) {
	p, _ := newWebAuthnProvider(t)
	record := enrollWebAuthn(t, p, "u1")
	ctx := context.Background()

	id, err := p.UpdateTemplate(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, record.TemplateID, id)

	require.NoError(t, p.Remove(ctx, record))
	// Removing twice is not an error.
	require.NoError(t, p.Remove(ctx, record))

	_, err = p.UpdateTemplate(ctx, record)
	assert.ErrorIs(t, err, types.ErrNotEnrolled)
}

func TestWebAuthnProvider_Health(t *testing.T) {
	p, _ := newWebAuthnProvider(t)
	assert.NoError(t, p.CheckHealth(context.Background()))
	assert.Error(t, (&WebAuthnProvider{}).CheckHealth(context.Background()))
	assert.Equal(t, types.MethodWebAuthn, p.Metadata().Method)
}
