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
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeremyhahn/go-biometrics/pkg/correlation"
)

func TestCorrelationMiddleware(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name      string
		headers   map[string]string
		want      string
		generated bool
	}{
		{
			name:    "correlation header",
			headers: map[string]string{correlation.CorrelationIDHeader: "corr-1"},
			want:    "corr-1",
		},
		{
			name:    "request id fallback",
			headers: map[string]string{correlation.RequestIDHeader: "req-1"},
			want:    "req-1",
		},
		{
			name: "correlation header wins",
			headers: map[string]string{
				correlation.CorrelationIDHeader: "corr-2",
				correlation.RequestIDHeader:     "req-2",
			},
			want: "corr-2",
		},
		{
			name:      "generated when absent",
			generated: true,
		},
		{
			name:      "oversized header replaced",
			headers:   map[string]string{correlation.CorrelationIDHeader: strings.Repeat("x", 129)},
			generated: true,
		},
		{
			name:      "unprintable header replaced",
			headers:   map[string]string{correlation.CorrelationIDHeader: "user=alice success=true"},
			generated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := s.CorrelationMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = correlation.GetCorrelationID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/biometrics", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			echoed := rec.Header().Get(correlation.CorrelationIDHeader)
			assert.Equal(t, seen, echoed)
			if tt.generated {
				assert.NotEmpty(t, seen)
				assert.NotContains(t, seen, " ")
				assert.LessOrEqual(t, len(seen), 128)
				return
			}
			assert.Equal(t, tt.want, seen)
		})
	}
}
