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
	"github.com/jeremyhahn/go-biometrics/pkg/bridge"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn"
)

// NativeFactory returns a Factory building NativeProviders over b.
func NativeFactory(b bridge.Bridge, hardwareBacked bool) Factory {
	return func(c types.Capability) (Provider, error) {
		return NewNativeProvider(b, c, hardwareBacked), nil
	}
}

// WebAuthnFactory returns a Factory building WebAuthnProviders that share
// one relying party and client.
func WebAuthnFactory(rp *webauthn.RelyingParty, client webauthn.Client) Factory {
	return func(c types.Capability) (Provider, error) {
		if rp == nil || client == nil {
			return nil, webauthn.ErrNotConfigured
		}
		return NewWebAuthnProvider(rp, client, c), nil
	}
}
