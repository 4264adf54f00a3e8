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

package rest

import (
	"time"

	"github.com/jeremyhahn/go-biometrics/pkg/audit"
	"github.com/jeremyhahn/go-biometrics/pkg/health"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// AvailabilityResponse describes what the device offers.
type AvailabilityResponse struct {
	Available      bool             `json:"available"`
	Modalities     []types.Modality `json:"modalities"`
	Method         string           `json:"method"`
	HardwareSecure bool             `json:"hardware_secure"`
}

// CapabilitiesResponse lists capabilities with per-user enrollment flags.
type CapabilitiesResponse struct {
	UserID       string             `json:"user_id"`
	Capabilities []types.Capability `json:"capabilities"`
}

// EnrollRequest represents an enrollment request.
type EnrollRequest struct {
	Force       bool              `json:"force,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EnrollmentResponse carries an enrollment record.
type EnrollmentResponse struct {
	Record *types.EnrollmentRecord `json:"record"`
}

// EnrollmentStateResponse reports the state of a (user, modality) pair.
type EnrollmentStateResponse struct {
	UserID   string                `json:"user_id"`
	Modality types.Modality        `json:"modality"`
	State    types.EnrollmentState `json:"state"`
	Enrolled bool                  `json:"enrolled"`
}

// AuthenticateRequest represents an authentication request. An empty
// modality selects the user's primary biometric; an empty challenge is
// generated server side.
type AuthenticateRequest struct {
	Modality  string `json:"modality,omitempty"`
	Challenge []byte `json:"challenge,omitempty"`
}

// AuthenticateResponse always carries the attempt result. Error is set
// when the attempt failed.
type AuthenticateResponse struct {
	Result *types.AuthenticationResult `json:"result"`
	Error  *ErrorResponse              `json:"error,omitempty"`
}

// PrimaryResponse names the user's preferred enrolled modality.
type PrimaryResponse struct {
	UserID   string         `json:"user_id"`
	Modality types.Modality `json:"modality"`
}

// AuditResponse represents an audit query result.
type AuditResponse struct {
	Events   []*audit.Event `json:"events"`
	Total    uint64         `json:"total"`
	Evicted  uint64         `json:"evicted"`
	Capacity int            `json:"capacity"`
}

// ClearAuditResponse reports how many events were dropped.
type ClearAuditResponse struct {
	Cleared int `json:"cleared"`
}

// HealthCheckResponse represents the response for health check endpoints.
type HealthCheckResponse struct {
	// Status is the overall health status
	Status health.Status `json:"status"`
	// Message provides additional context
	Message string `json:"message,omitempty"`
	// Uptime is the time since the checker was started
	Uptime time.Duration `json:"uptime,omitempty"`
	// Checks contains individual check results (for readiness)
	Checks []health.CheckResult `json:"checks,omitempty"`
}
