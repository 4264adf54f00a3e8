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

// Package rest exposes the biometric service over HTTP.
//
// # Server Setup
//
//	svc, _ := biometric.NewService(ctx, biometric.Params{...})
//	server, _ := rest.NewServer(&rest.Config{
//	    Service: svc,
//	    Broker:  broker,
//	    Addr:    ":8443",
//	})
//	go server.Start()
//	defer server.Stop(ctx)
//
// # API Endpoints
//
// Health and metrics:
//   - GET /health/live - liveness probe
//   - GET /health/ready - readiness probe with per-provider and storage checks
//   - GET /health/startup - startup probe
//   - GET /metrics - Prometheus exposition
//
// Device:
//   - GET /api/v1/biometrics - available modalities and method
//   - GET /api/v1/metrics - enrollment and audit summary
//   - GET /api/v1/audit - query audit events
//   - DELETE /api/v1/audit - clear the audit log
//
// Per user:
//   - GET /api/v1/users/{user}/biometrics - capabilities with enrollment flags
//   - GET /api/v1/users/{user}/primary - highest priority enrolled modality
//   - POST /api/v1/users/{user}/authenticate - run an authentication ceremony
//   - GET /api/v1/users/{user}/biometrics/{modality} - enrollment state
//   - POST /api/v1/users/{user}/biometrics/{modality}/enroll - enroll
//   - POST /api/v1/users/{user}/biometrics/{modality}/refresh - refresh template
//   - DELETE /api/v1/users/{user}/biometrics/{modality} - revoke
//
// Browser ceremonies (server deployments):
//   - GET /api/v1/ceremonies?subject={user} - pending ceremonies
//   - GET /api/v1/ceremonies/{id} - WebAuthn options for navigator.credentials
//   - POST /api/v1/ceremonies/{id} - PublicKeyCredential JSON from the browser
//   - DELETE /api/v1/ceremonies/{id} - user dismissed the prompt
//
// # Errors
//
// Failures are JSON:
//
//	{"error": "locked out", "reason": "locked_out", "code": 423}
//
// Authentication responses always carry the attempt result alongside any
// error so clients can render the reason.
package rest
