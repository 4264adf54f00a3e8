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
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// VerifyClientData checks the collected client data of a ceremony response
// against what the relying party issued. The checks run in a fixed order
// and the first failure is returned:
//
//  1. challenge, compared byte for byte with issued (types.ErrChallengeMismatch)
//  2. ceremony type (types.ErrTypeMismatch)
//  3. origin, against the configured origins (types.ErrOriginMismatch)
func VerifyClientData(cd protocol.CollectedClientData, ceremony protocol.CeremonyType, issued []byte, cfg *Config) error {
	got, err := decodeChallenge(cd.Challenge)
	if err != nil || len(got) != len(issued) || subtle.ConstantTimeCompare(got, issued) != 1 {
		return types.ErrChallengeMismatch
	}
	if cd.Type != ceremony {
		return fmt.Errorf("%w: got %q want %q", types.ErrTypeMismatch, cd.Type, ceremony)
	}
	if !cfg.HasOrigin(cd.Origin) {
		return fmt.Errorf("%w: %q", types.ErrOriginMismatch, cd.Origin)
	}
	return nil
}

// decodeChallenge accepts base64url with or without padding.
func decodeChallenge(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
