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
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-biometrics/pkg/securestore"
	"github.com/jeremyhahn/go-biometrics/pkg/storage"
)

// CredentialStore persists the credentials registered for each
// (user, modality) pair.
type CredentialStore interface {
	// Get returns the credentials for the pair. Returns an empty slice if
	// none are registered.
	Get(ctx context.Context, userID, modality string) ([]*Credential, error)

	// Put replaces the credentials for the pair.
	Put(ctx context.Context, userID, modality string, creds []*Credential) error

	// Delete removes every credential for the pair.
	Delete(ctx context.Context, userID, modality string) error
}

// SecureCredentialStore keeps credentials in a securestore.Store.
type SecureCredentialStore struct {
	store securestore.Store
}

// NewSecureCredentialStore creates a credential store over s.
func NewSecureCredentialStore(s securestore.Store) *SecureCredentialStore {
	return &SecureCredentialStore{store: s}
}

// CredentialKey returns the storage key for a (user, modality) pair.
func CredentialKey(userID, modality string) string {
	return "webauthn/credentials/" + modality + "/" + storage.Segment(userID)
}

// Get implements CredentialStore.
func (s *SecureCredentialStore) Get(ctx context.Context, userID, modality string) ([]*Credential, error) {
	var creds []*Credential
	err := securestore.RetrieveJSON(ctx, s.store, CredentialKey(userID, modality), &creds)
	if errors.Is(err, securestore.ErrNotFound) {
		return []*Credential{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return creds, nil
}

// Put implements CredentialStore.
func (s *SecureCredentialStore) Put(ctx context.Context, userID, modality string, creds []*Credential) error {
	if err := securestore.StoreJSON(ctx, s.store, CredentialKey(userID, modality), creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Delete implements CredentialStore.
func (s *SecureCredentialStore) Delete(ctx context.Context, userID, modality string) error {
	return s.store.Remove(ctx, CredentialKey(userID, modality))
}
