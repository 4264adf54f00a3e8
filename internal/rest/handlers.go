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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-biometrics/pkg/audit"
	"github.com/jeremyhahn/go-biometrics/pkg/authn"
	"github.com/jeremyhahn/go-biometrics/pkg/biometric"
	"github.com/jeremyhahn/go-biometrics/pkg/health"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// HandlerContext holds the dependencies shared by all handlers.
type HandlerContext struct {
	service *biometric.Service
	health  *health.Checker
	logger  *slog.Logger
}

// NewHandlerContext creates a handler context around a service.
func NewHandlerContext(service *biometric.Service, logger *slog.Logger) *HandlerContext {
	return &HandlerContext{
		service: service,
		health:  service.Checker(),
		logger:  logger,
	}
}

// userParam returns the validated {user} path parameter.
func userParam(r *http.Request) (string, error) {
	userID := chi.URLParam(r, "user")
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	return userID, nil
}

// pairParams returns the validated {user} and {modality} path parameters.
func pairParams(r *http.Request) (string, types.Modality, error) {
	userID, err := userParam(r)
	if err != nil {
		return "", "", err
	}
	mod, err := ParseModalityParam(chi.URLParam(r, "modality"))
	if err != nil {
		return "", "", err
	}
	if mod == "" {
		return "", "", fmt.Errorf("%w: modality is required", ErrInvalidRequest)
	}
	return userID, mod, nil
}

// AvailabilityHandler handles GET /api/v1/biometrics.
func (h *HandlerContext) AvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	m := h.service.Metrics(r.Context())
	writeJSON(w, AvailabilityResponse{
		Available:      h.service.IsAvailable(""),
		Modalities:     h.service.AvailableTypes(),
		Method:         h.service.Environment().Method(),
		HardwareSecure: m.HardwareSecure,
	}, http.StatusOK)
}

// MetricsHandler handles GET /api/v1/metrics.
func (h *HandlerContext) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.service.Metrics(r.Context()), http.StatusOK)
}

// AuditHandler handles GET /api/v1/audit.
//
// Query parameters: type, user, modality, severity (repeatable), success,
// since (RFC 3339) and limit.
func (h *HandlerContext) AuditHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	log := h.service.Audit()
	total, evicted := log.Stats()
	writeJSON(w, AuditResponse{
		Events:   log.Query(filter),
		Total:    total,
		Evicted:  evicted,
		Capacity: log.Capacity(),
	}, http.StatusOK)
}

func parseAuditFilter(r *http.Request) (*audit.Filter, error) {
	q := r.URL.Query()
	filter := &audit.Filter{UserID: q.Get("user")}

	switch t := strings.ToUpper(q.Get("type")); audit.EventType(t) {
	case "":
	case audit.TypeEnrollment, audit.TypeAuthentication:
		filter.Type = audit.EventType(t)
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidRequest, q.Get("type"))
	}

	if m := q.Get("modality"); m != "" {
		mod, err := types.ParseModality(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		filter.Modality = mod
	}
	for _, s := range q["severity"] {
		filter.Severities = append(filter.Severities, audit.EventSeverity(strings.ToLower(s)))
	}
	if s := q.Get("success"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%w: success must be a boolean", ErrInvalidRequest)
		}
		filter.Success = &b
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("%w: since must be RFC 3339", ErrInvalidRequest)
		}
		filter.Since = since
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("%w: limit must be a non-negative integer", ErrInvalidRequest)
		}
		filter.Limit = limit
	}
	return filter, nil
}

// ClearAuditHandler handles DELETE /api/v1/audit.
func (h *HandlerContext) ClearAuditHandler(w http.ResponseWriter, r *http.Request) {
	n := h.service.Audit().Clear()
	h.logger.WarnContext(r.Context(), "audit log cleared", slog.Int("events", n))
	writeJSON(w, ClearAuditResponse{Cleared: n}, http.StatusOK)
}

// CapabilitiesHandler handles GET /api/v1/users/{user}/biometrics.
func (h *HandlerContext) CapabilitiesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, CapabilitiesResponse{
		UserID:       userID,
		Capabilities: h.service.Capabilities(r.Context(), userID),
	}, http.StatusOK)
}

// PrimaryHandler handles GET /api/v1/users/{user}/primary.
func (h *HandlerContext) PrimaryHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	mod, err := h.service.PrimaryBiometric(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, PrimaryResponse{UserID: userID, Modality: mod}, http.StatusOK)
}

// EnrollmentStateHandler handles GET /api/v1/users/{user}/biometrics/{modality}.
func (h *HandlerContext) EnrollmentStateHandler(w http.ResponseWriter, r *http.Request) {
	userID, mod, err := pairParams(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	state, err := h.service.EnrollmentState(r.Context(), mod, userID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, EnrollmentStateResponse{
		UserID:   userID,
		Modality: mod,
		State:    state,
		Enrolled: state == types.StateEnrolled,
	}, http.StatusOK)
}

// EnrollHandler handles POST /api/v1/users/{user}/biometrics/{modality}/enroll.
func (h *HandlerContext) EnrollHandler(w http.ResponseWriter, r *http.Request) {
	userID, mod, err := pairParams(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	var req EnrollRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	record, err := h.service.Enroll(r.Context(), mod, userID, types.EnrollOptions{
		Force:       req.Force,
		DisplayName: req.DisplayName,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, EnrollmentResponse{Record: record}, http.StatusCreated)
}

// RefreshHandler handles POST /api/v1/users/{user}/biometrics/{modality}/refresh.
func (h *HandlerContext) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	userID, mod, err := pairParams(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	record, err := h.service.RefreshTemplate(r.Context(), mod, userID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, EnrollmentResponse{Record: record}, http.StatusOK)
}

// RevokeHandler handles DELETE /api/v1/users/{user}/biometrics/{modality}.
func (h *HandlerContext) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	userID, mod, err := pairParams(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if err := h.service.Revoke(r.Context(), mod, userID); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuthenticateHandler handles POST /api/v1/users/{user}/authenticate.
func (h *HandlerContext) AuthenticateHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	var req AuthenticateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	mod, err := ParseModalityParam(req.Modality)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	result, err := h.service.AuthenticateRequest(r.Context(), authn.Request{
		UserID:    userID,
		Modality:  mod,
		Challenge: req.Challenge,
	})
	if err == nil {
		writeJSON(w, AuthenticateResponse{Result: result}, http.StatusOK)
		return
	}

	statusCode := mapErrorToStatusCode(err)
	resp := AuthenticateResponse{
		Result: result,
		Error:  &ErrorResponse{Error: err.Error(), Reason: reason(err), Code: statusCode},
	}
	if statusCode == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "authentication failed",
			slog.String("user_id", SanitizeString(userID)),
			slog.String("error", SanitizeString(err.Error())))
		resp.Error.Error = ErrInternalError.Error()
	}
	if errors.Is(err, types.ErrLockedOut) {
		if until := h.lockedUntil(result); !until.IsZero() {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(until).Seconds())+1))
		}
	}
	writeJSON(w, resp, statusCode)
}

func (h *HandlerContext) lockedUntil(result *types.AuthenticationResult) time.Time {
	if result == nil || result.Modality == "" {
		return time.Time{}
	}
	return h.service.LockedUntil(result.Modality, result.UserID)
}
