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
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Credential is a registered credential scoped to one modality. The
// library credential is embedded so ceremonies can use it directly.
type Credential struct {
	webauthn.Credential

	// UserHandle is the scoped handle the credential was registered under.
	UserHandle []byte `json:"user_handle"`

	Modality   string    `json:"modality"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// newCredential records a freshly created library credential.
func newCredential(user *User, wc *webauthn.Credential, now time.Time) *Credential {
	return &Credential{
		Credential: *wc,
		UserHandle: user.WebAuthnID(),
		Modality:   user.modality,
		CreatedAt:  now,
	}
}

// EncodedID returns the base64url credential ID. It is the opaque template
// handle recorded on enrollment records.
func (c *Credential) EncodedID() string {
	return base64.RawURLEncoding.EncodeToString(c.ID)
}

// UserHandle derives the WebAuthn user handle for (userID, modality). The
// handle is stable, 32 bytes, and reveals neither input.
func UserHandle(userID, modality string) []byte {
	h := sha256.New()
	h.Write([]byte("biometric-user-handle\x00"))
	h.Write([]byte(modality))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return h.Sum(nil)
}

// User is a WebAuthn user scoped to one (userID, modality) pair, so a
// credential enrolled for one modality never satisfies another.
type User struct {
	userID      string
	modality    string
	displayName string
	credentials []*Credential
}

// NewUser creates a scoped user with its current credentials.
func NewUser(userID, modality, displayName string, creds []*Credential) *User {
	return &User{
		userID:      userID,
		modality:    modality,
		displayName: displayName,
		credentials: creds,
	}
}

// WebAuthnID returns the scoped user handle.
func (u *User) WebAuthnID() []byte {
	return UserHandle(u.userID, u.modality)
}

// WebAuthnName returns "userID (modality)".
func (u *User) WebAuthnName() string {
	return u.userID + " (" + u.modality + ")"
}

// WebAuthnDisplayName returns the display name, falling back to the name.
func (u *User) WebAuthnDisplayName() string {
	if u.displayName == "" {
		return u.WebAuthnName()
	}
	return u.displayName
}

func (u *User) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, len(u.credentials))
	for i, c := range u.credentials {
		out[i] = c.Credential
	}
	return out
}

// Credentials returns the user's credentials.
func (u *User) Credentials() []*Credential {
	return u.credentials
}

// Credential returns the credential with the given ID.
func (u *User) Credential(id []byte) (*Credential, bool) {
	for _, c := range u.credentials {
		if bytes.Equal(c.ID, id) {
			return c, true
		}
	}
	return nil, false
}

// Descriptors returns allow-list descriptors for every credential.
func (u *User) Descriptors() []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, len(u.credentials))
	for i, c := range u.credentials {
		out[i] = c.Descriptor()
	}
	return out
}
