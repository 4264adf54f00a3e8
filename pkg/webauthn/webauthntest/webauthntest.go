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

// Package webauthntest provides a relying party wired to in-memory storage
// and a virtual platform authenticator for tests.
package webauthntest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biometrics/pkg/kdf"
	"github.com/jeremyhahn/go-biometrics/pkg/securestore"
	"github.com/jeremyhahn/go-biometrics/pkg/storage/memory"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn"
)

// Origin is the origin the test relying party accepts.
const Origin = "https://biometrics.example.com"

// Config returns the relying party configuration used by New.
func Config() *webauthn.Config {
	return &webauthn.Config{
		RPID:          "biometrics.example.com",
		RPDisplayName: "Biometrics Test",
		RPOrigins:     []string{Origin},
	}
}

// New returns a relying party over an in-memory secure store and a virtual
// client presenting Origin.
func New(t testing.TB) (*webauthn.RelyingParty, *webauthn.VirtualClient) {
	t.Helper()
	store, err := securestore.NewAEADStore(context.Background(), securestore.AEADConfig{
		Backend:  memory.New(),
		Secret:   bytes.Repeat([]byte{0x42}, securestore.SecretSize),
		DeviceID: "webauthntest",
		KDF:      kdf.Params{Algorithm: kdf.AlgorithmPBKDF2, Iterations: kdf.MinIterations},
	})
	require.NoError(t, err)

	rp, err := webauthn.NewRelyingParty(webauthn.Params{
		Config:      Config(),
		Credentials: webauthn.NewSecureCredentialStore(store),
	})
	require.NoError(t, err)
	return rp, webauthn.NewVirtualClient(rp.Config())
}
