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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeremyhahn/go-biometrics/pkg/correlation"
)

// maxCorrelationIDLength bounds caller-supplied IDs, which are copied into
// every audit event of the request.
const maxCorrelationIDLength = 128

// CorrelationMiddleware binds a correlation ID to the request. X-Correlation-ID
// wins over X-Request-ID. An absent or unusable ID is replaced with a fresh
// one. The ID is echoed in the response and tagged on the request span.
func (s *Server) CorrelationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(correlation.CorrelationIDHeader)
			if id == "" {
				id = r.Header.Get(correlation.RequestIDHeader)
			}
			if !usableCorrelationID(id) {
				id = correlation.NewID()
			}

			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("correlation.id", id))
			w.Header().Set(correlation.CorrelationIDHeader, id)
			next.ServeHTTP(w, r.WithContext(correlation.WithCorrelationID(r.Context(), id)))
		})
	}
}

// usableCorrelationID accepts short IDs of printable ASCII without spaces.
func usableCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
