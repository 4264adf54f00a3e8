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

package ceremony

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn"
)

// Error codes returned in ErrorResponse.
const (
	ErrorCodeNotFound        = "ceremony_not_found"
	ErrorCodeInvalidResponse = "invalid_response"
	ErrorCodeInternalError   = "internal_error"
)

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ListResponse lists pending ceremonies.
type ListResponse struct {
	Ceremonies []*Pending `json:"ceremonies"`
}

// Handler serves pending ceremonies to the browser.
type Handler struct {
	broker *Broker
	logger *slog.Logger
}

// NewHandler creates a Handler for broker.
func NewHandler(broker *Broker, logger *slog.Logger) *Handler {
	return &Handler{
		broker: broker,
		logger: logging.OrDiscard(logger),
	}
}

// Mount registers the ceremony routes on r.
//
//	r.Route("/api/v1/ceremonies", func(r chi.Router) {
//	    ceremony.Mount(r, handler)
//	})
func Mount(r chi.Router, h *Handler) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Options)
	r.Post("/{id}", h.Complete)
	r.Delete("/{id}", h.Cancel)
}

// List handles GET /?subject=user.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, ListResponse{Ceremonies: h.broker.List(r.URL.Query().Get("subject"))})
}

// Options handles GET /{id} and returns the ceremony with its options.
func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	p, err := h.broker.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// Complete handles POST /{id}. The body is the PublicKeyCredential JSON
// produced by the browser.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	if err := h.broker.Complete(chi.URLParam(r, "id"), r.Body); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cancel handles DELETE /{id}.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.broker.Cancel(chi.URLParam(r, "id")); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, ErrorCodeNotFound, "ceremony not found")
	case errors.Is(err, webauthn.ErrInvalidResponse), errors.Is(err, ErrKindMismatch):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidResponse, "invalid authenticator response")
	default:
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err, "status", status)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
