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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrInvalidChallenge, http.StatusBadRequest},
		{types.ErrUnsupportedModality, http.StatusNotFound},
		{types.ErrNotEnrolled, http.StatusNotFound},
		{types.ErrAlreadyEnrolled, http.StatusConflict},
		{types.ErrEnrollmentInProgress, http.StatusConflict},
		{types.ErrLowQualitySample, http.StatusUnprocessableEntity},
		{types.ErrUserCancelled, http.StatusUnprocessableEntity},
		{types.ErrLockedOut, http.StatusLocked},
		{types.ErrChallengeMismatch, http.StatusUnauthorized},
		{types.ErrTypeMismatch, http.StatusUnauthorized},
		{types.ErrOriginMismatch, http.StatusUnauthorized},
		{types.ErrLowConfidence, http.StatusUnauthorized},
		{types.ErrLivenessRequired, http.StatusUnauthorized},
		{types.ErrVerificationFailed, http.StatusUnauthorized},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrStorageFailure, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, mapErrorToStatusCode(tt.err))
			wrapped := types.WrapError("authenticate", types.ModalityFace, tt.err)
			assert.Equal(t, tt.want, mapErrorToStatusCode(wrapped))
		})
	}
}

func TestReason(t *testing.T) {
	assert.Equal(t, "invalid_request", reason(fmt.Errorf("%w: bad", ErrInvalidRequest)))
	assert.Equal(t, "locked_out", reason(types.ErrLockedOut))
	assert.Equal(t, "internal_error", reason(errors.New("boom")))
}

func TestHandleError_HidesInternalDetail(t *testing.T) {
	h := &HandlerContext{logger: logging.Discard()}
	rec := httptest.NewRecorder()
	err := fmt.Errorf("%w: disk /var/lib/secret unreadable", types.ErrStorageFailure)
	h.handleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, ErrInternalError.Error(), resp.Error)
	assert.Equal(t, "storage_failure", resp.Message)
	assert.NotContains(t, resp.Error, "/var/lib")
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"empty", "", false},
		{"valid", `{"force":true,"display_name":"Alice"}`, false},
		{"unknown field", `{"forced":true}`, true},
		{"malformed", `{"force":`, true},
		{"wrong type", `{"force":"yes"}`, true},
		{"too large", `{"display_name":"` + strings.Repeat("a", maxBodyBytes) + `"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.body))
			var v EnrollRequest
			err := decodeJSON(req, &v)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"alice", false},
		{"alice@example.com", false},
		{"user_1-2.3+tag", false},
		{"", true},
		{".", true},
		{"..", true},
		{"a/b", true},
		{"a b", true},
		{"a:b", true},
		{strings.Repeat("a", maxUserIDLength), false},
		{strings.Repeat("a", maxUserIDLength+1), true},
	}
	for _, tt := range tests {
		err := ValidateUserID(tt.id)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidRequest, tt.id)
		} else {
			assert.NoError(t, err, tt.id)
		}
	}
}

func TestParseModalityParam(t *testing.T) {
	mod, err := ParseModalityParam("")
	require.NoError(t, err)
	assert.Empty(t, mod)

	mod, err = ParseModalityParam("face")
	require.NoError(t, err)
	assert.Equal(t, types.ModalityFace, mod)

	_, err = ParseModalityParam("retina")
	assert.ErrorIs(t, err, types.ErrUnsupportedModality)
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "ab", SanitizeString("a\nb"))
	assert.Equal(t, "plain", SanitizeString("plain"))
	long := SanitizeString(strings.Repeat("x", 2000))
	assert.Len(t, long, 1003)
}
