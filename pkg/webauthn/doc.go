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

// Package webauthn is the relying-party side of browser biometric
// ceremonies. It wraps go-webauthn with credentials scoped to a
// (user, modality) pair and persisted through secure storage.
//
// # Architecture
//
//  1. RelyingParty - begins and finishes registration and login ceremonies
//  2. CredentialStore - per (user, modality) credential persistence
//  3. Client - the browser side of a ceremony (a live browser through the
//     ceremony broker, or a virtual authenticator in tests)
//
// # Assertion Checks
//
// FinishLogin checks the collected client data before any signature work,
// in this order:
//
//  1. the challenge is byte-for-byte the one issued
//  2. the ceremony type is "webauthn.get"
//  3. the origin is one of the configured origins
//
// Each failure maps to its own error so callers can report the exact
// reason. The signature and sign counter are then validated by go-webauthn.
//
// Note: browsers only expose WebAuthn in secure contexts, so origins are
// normally https.
package webauthn
