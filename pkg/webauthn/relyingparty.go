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
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// RelyingParty runs registration and login ceremonies for scoped users.
type RelyingParty struct {
	webauthn *webauthn.WebAuthn
	config   *Config
	creds    CredentialStore
	now      func() time.Time
}

// Params contains dependencies for creating a RelyingParty.
type Params struct {
	// Config is the relying party configuration (required).
	Config *Config

	// Credentials is the credential persistence layer (required).
	Credentials CredentialStore
}

// NewRelyingParty creates a RelyingParty with the provided dependencies.
func NewRelyingParty(params Params) (*RelyingParty, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	return &RelyingParty{
		webauthn: wa,
		config:   params.Config,
		creds:    params.Credentials,
		now:      time.Now,
	}, nil
}

// Config returns the relying party configuration.
func (rp *RelyingParty) Config() *Config {
	return rp.config
}

// User loads the scoped user for (userID, modality) with its credentials.
func (rp *RelyingParty) User(ctx context.Context, userID, modality, displayName string) (*User, error) {
	creds, err := rp.creds.Get(ctx, userID, modality)
	if err != nil {
		return nil, WrapError("get credentials", err)
	}
	return NewUser(userID, modality, displayName, creds), nil
}

// BeginRegistration starts a registration ceremony. Existing credentials are
// excluded so the authenticator does not register twice.
func (rp *RelyingParty) BeginRegistration(user *User) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	selection := rp.webauthn.Config.AuthenticatorSelection
	selection.UserVerification = protocol.VerificationRequired

	options, session, err := rp.webauthn.BeginRegistration(user,
		webauthn.WithExclusions(user.Descriptors()),
		webauthn.WithAuthenticatorSelection(selection),
	)
	if err != nil {
		return nil, nil, WrapError("begin registration", err)
	}
	return options, session, nil
}

// FinishRegistration validates the attestation and persists the new
// credential alongside the user's existing ones.
func (rp *RelyingParty) FinishRegistration(ctx context.Context, user *User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	if response == nil {
		return nil, ErrInvalidResponse
	}
	issued, err := decodeChallenge(session.Challenge)
	if err != nil {
		return nil, WrapError("decode session challenge", err)
	}
	if err := VerifyClientData(response.Response.CollectedClientData, protocol.CreateCeremony, issued, rp.config); err != nil {
		return nil, WrapError("verify client data", err)
	}

	wc, err := rp.webauthn.CreateCredential(user, session, response)
	if err != nil {
		return nil, verificationFailed("create credential", err)
	}
	if !wc.Flags.UserVerified {
		return nil, WrapError("create credential", ErrUserNotVerified)
	}

	cred := newCredential(user, wc, rp.now().UTC())

	creds := append(append([]*Credential{}, user.credentials...), cred)
	if err := rp.creds.Put(ctx, user.userID, user.modality, creds); err != nil {
		return nil, WrapError("save credential", err)
	}
	user.credentials = creds
	return cred, nil
}

// BeginLogin starts a login ceremony bound to challenge against the user's
// credentials, with user verification required.
func (rp *RelyingParty) BeginLogin(user *User, challenge []byte) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if len(user.credentials) == 0 {
		return nil, nil, ErrNoCredentials
	}
	options, session, err := rp.webauthn.BeginLogin(user,
		webauthn.WithChallenge(challenge),
		webauthn.WithUserVerification(protocol.VerificationRequired),
		webauthn.WithAllowedCredentials(user.Descriptors()),
	)
	if err != nil {
		return nil, nil, WrapError("begin login", err)
	}
	return options, session, nil
}

// FinishLogin verifies an assertion. Client data is checked first (see
// VerifyClientData), then the signature, and finally the sign counter is
// persisted.
func (rp *RelyingParty) FinishLogin(ctx context.Context, user *User, session webauthn.SessionData, issued []byte, response *protocol.ParsedCredentialAssertionData) (*Credential, error) {
	if response == nil {
		return nil, ErrInvalidResponse
	}
	if err := VerifyClientData(response.Response.CollectedClientData, protocol.AssertCeremony, issued, rp.config); err != nil {
		return nil, WrapError("verify client data", err)
	}

	wc, err := rp.webauthn.ValidateLogin(user, session, response)
	if err != nil {
		return nil, verificationFailed("validate login", err)
	}
	if wc.Authenticator.CloneWarning {
		return nil, WrapError("validate login", ErrClonedAuthenticator)
	}

	cred, ok := user.Credential(wc.ID)
	if !ok {
		return nil, WrapError("validate login", ErrCredentialNotFound)
	}
	cred.Authenticator.SignCount = wc.Authenticator.SignCount
	cred.LastUsedAt = rp.now().UTC()
	if err := rp.creds.Put(ctx, user.userID, user.modality, user.credentials); err != nil {
		return nil, WrapError("update credential", err)
	}
	return cred, nil
}

// RemoveCredentials deletes every credential for (userID, modality).
func (rp *RelyingParty) RemoveCredentials(ctx context.Context, userID, modality string) error {
	return WrapError("delete credentials", rp.creds.Delete(ctx, userID, modality))
}

// RemoveCredential deletes one credential for (userID, modality). The
// remaining credentials are kept.
func (rp *RelyingParty) RemoveCredential(ctx context.Context, userID, modality string, id []byte) error {
	user, err := rp.User(ctx, userID, modality, "")
	if err != nil {
		return err
	}
	if _, ok := user.Credential(id); !ok {
		return WrapError("delete credential", ErrCredentialNotFound)
	}

	kept := make([]*Credential, 0, len(user.credentials)-1)
	for _, c := range user.credentials {
		if !bytes.Equal(c.ID, id) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return rp.RemoveCredentials(ctx, userID, modality)
	}
	return WrapError("delete credential", rp.creds.Put(ctx, userID, modality, kept))
}
