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
	"encoding/base64"
	"fmt"

	"github.com/jeremyhahn/go-biometrics/pkg/bridge"
)

// DefaultAccessGroup scopes native keystore entries.
const DefaultAccessGroup = "biometric.auth"

// NativeStore keeps values in the platform keystore (secure enclave / TEE)
// via the bridge. Entries are never synchronizable off-device.
type NativeStore struct {
	bridge      bridge.Bridge
	accessGroup string
}

// NewNativeStore creates a NativeStore scoped to accessGroup.
func NewNativeStore(b bridge.Bridge, accessGroup string) (*NativeStore, error) {
	if b == nil {
		return nil, fmt.Errorf("securestore: bridge is required")
	}
	if accessGroup == "" {
		accessGroup = DefaultAccessGroup
	}
	return &NativeStore{bridge: b, accessGroup: accessGroup}, nil
}

func (s *NativeStore) args(key string) map[string]any {
	return map[string]any{
		"key":            key,
		"accessGroup":    s.accessGroup,
		"synchronizable": false,
	}
}

// Store writes value to the platform keystore.
func (s *NativeStore) Store(ctx context.Context, key string, value []byte) error {
	args := s.args(key)
	args["value"] = base64.StdEncoding.EncodeToString(value)
	if _, err := s.bridge.Call(ctx, bridge.MethodSecureStorageSet, args); err != nil {
		return fmt.Errorf("securestore: native set %q: %w", key, err)
	}
	return nil
}

// Retrieve reads key from the platform keystore.
func (s *NativeStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	resp, err := bridge.Invoke[bridge.SecureValueResponse](ctx, s.bridge, bridge.MethodSecureStorageGet, s.args(key))
	if err != nil {
		return nil, fmt.Errorf("securestore: native get %q: %w", key, err)
	}
	if !resp.Found {
		return nil, ErrNotFound
	}
	value, err := base64.StdEncoding.DecodeString(resp.Value)
	if err != nil {
		return nil, fmt.Errorf("securestore: native value %q: %w", key, err)
	}
	return value, nil
}

// Remove deletes key from the platform keystore.
func (s *NativeStore) Remove(ctx context.Context, key string) error {
	if _, err := s.bridge.Call(ctx, bridge.MethodSecureStorageRemove, s.args(key)); err != nil {
		return fmt.Errorf("securestore: native remove %q: %w", key, err)
	}
	return nil
}

// HardwareBacked returns true.
func (s *NativeStore) HardwareBacked() bool {
	return true
}
