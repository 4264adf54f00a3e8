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

package securestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-biometrics/pkg/storage"
)

// EncryptionService is an encryption facility supplied by the host
// application. aad must be bound into the ciphertext.
type EncryptionService interface {
	Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
}

// HostStore encrypts through a host EncryptionService and persists the
// ciphertext in a backend.
type HostStore struct {
	backend storage.Backend
	crypter EncryptionService
}

// NewHostStore creates a HostStore. Both arguments are required.
func NewHostStore(backend storage.Backend, crypter EncryptionService) (*HostStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("securestore: backend is required")
	}
	if crypter == nil {
		return nil, fmt.Errorf("securestore: encryption service is required")
	}
	return &HostStore{backend: backend, crypter: crypter}, nil
}

// Store encrypts value and writes it under key.
func (s *HostStore) Store(ctx context.Context, key string, value []byte) error {
	ciphertext, err := s.crypter.Encrypt(ctx, value, []byte(key))
	if err != nil {
		return fmt.Errorf("securestore: host encrypt %q: %w", key, err)
	}
	if err := s.backend.Put(ctx, key, ciphertext); err != nil {
		return fmt.Errorf("securestore: write %q: %w", key, err)
	}
	return nil
}

// Retrieve reads and decrypts the value for key.
func (s *HostStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	ciphertext, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("securestore: read %q: %w", key, err)
	}
	plaintext, err := s.crypter.Decrypt(ctx, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: host decrypt %q: %v", ErrDecrypt, key, err)
	}
	return plaintext, nil
}

// Remove deletes key.
func (s *HostStore) Remove(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("securestore: remove %q: %w", key, err)
	}
	return nil
}

// HardwareBacked returns false.
func (s *HostStore) HardwareBacked() bool {
	return false
}
