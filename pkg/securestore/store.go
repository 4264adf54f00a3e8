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

// Package securestore provides encrypted at-rest persistence for enrollment
// state. Three implementations exist:
//
//   - AEADStore encrypts with AES-256-GCM or XChaCha20-Poly1305 under a key
//     derived from a device-bound secret.
//   - HostStore delegates encryption to a host-supplied EncryptionService.
//   - NativeStore hands values to hardware-isolated storage on the device
//     through the platform bridge.
//
// There is no plaintext mode. A Store that cannot encrypt fails the write.
package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-biometrics/pkg/storage"
)

var (
	// ErrNotFound is returned by Retrieve when the key does not exist.
	ErrNotFound = storage.ErrNotFound

	// ErrDecrypt is returned when a stored value fails authentication.
	ErrDecrypt = errors.New("securestore: decryption failed")

	// ErrNonceReuse is returned when a freshly generated nonce collides with
	// one already used under the current key.
	ErrNonceReuse = errors.New("securestore: nonce reuse detected")

	// ErrReservedKey is returned for keys the store keeps for itself.
	ErrReservedKey = errors.New("securestore: key is reserved")

	// ErrUnsupportedCipher is returned for unknown cipher names.
	ErrUnsupportedCipher = errors.New("securestore: unsupported cipher")
)

// Store is encrypted key-value persistence.
type Store interface {
	// Store encrypts and writes value under key, replacing any previous value.
	Store(ctx context.Context, key string, value []byte) error

	// Retrieve reads and decrypts the value for key. Returns ErrNotFound if
	// the key does not exist.
	Retrieve(ctx context.Context, key string) ([]byte, error)

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// HardwareBacked reports whether values live in hardware-isolated storage.
	HardwareBacked() bool
}

// StoreJSON marshals v and stores it under key.
func StoreJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("securestore: marshal %q: %w", key, err)
	}
	return s.Store(ctx, key, data)
}

// RetrieveJSON retrieves key and unmarshals it into v.
func RetrieveJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Retrieve(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("securestore: unmarshal %q: %w", key, err)
	}
	return nil
}
