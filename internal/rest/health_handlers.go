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
	"net/http"

	"github.com/jeremyhahn/go-biometrics/pkg/health"
)

// LivenessHandler handles GET /health/live requests.
//
// Liveness probes determine if the service is alive and should be restarted.
// This endpoint should ONLY fail if the service is in an unrecoverable state.
func (h *HandlerContext) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	result := h.health.Live(r.Context())

	statusCode := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, HealthCheckResponse{Status: result.Status, Message: result.Message}, statusCode)
}

// ReadinessHandler handles GET /health/ready requests.
//
// Readiness fails when secure storage cannot round-trip a value. An
// unhealthy sensor only degrades readiness since other modalities keep
// working.
func (h *HandlerContext) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	report := h.health.Ready(r.Context())

	resp := HealthCheckResponse{
		Status: report.Status,
		Uptime: report.Uptime,
		Checks: report.Checks,
	}

	statusCode := http.StatusOK
	switch report.Status {
	case health.StatusHealthy:
		resp.Message = "All checks passed"
	case health.StatusDegraded:
		// Degraded but still serving traffic
		resp.Message = "Service is degraded"
	case health.StatusUnhealthy:
		resp.Message = "One or more checks failed"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, resp, statusCode)
}

// StartupHandler handles GET /health/startup requests.
//
// Startup succeeds once capability detection and enrollment loading have
// finished.
func (h *HandlerContext) StartupHandler(w http.ResponseWriter, r *http.Request) {
	if !h.health.IsStarted() {
		writeJSON(w, HealthCheckResponse{
			Status:  health.StatusUnhealthy,
			Message: "Service is starting",
		}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, HealthCheckResponse{
		Status:  health.StatusHealthy,
		Message: "Service has started",
		Uptime:  h.health.Uptime(),
	}, http.StatusOK)
}
