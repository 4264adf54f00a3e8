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
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jeremyhahn/go-biometrics/pkg/biometric"
	"github.com/jeremyhahn/go-biometrics/pkg/ceremony"
	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/metrics"
	"github.com/jeremyhahn/go-biometrics/pkg/ratelimit"
)

// Server represents the REST API server.
type Server struct {
	server    *http.Server
	handlers  *HandlerContext
	broker    *ceremony.Broker
	limiter   *ratelimit.Limiter
	tlsConfig *tls.Config
	cfg       *Config
	logger    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// Config holds the REST server configuration.
type Config struct {
	// Service is the biometric service to expose (required).
	Service *biometric.Service

	// Broker relays browser ceremonies. Routes are mounted when set.
	Broker *ceremony.Broker

	// Limiter throttles /api/v1. Defaults to a disabled limiter.
	Limiter *ratelimit.Limiter

	// Addr is the listen address (default: ":8443")
	Addr string

	// TLSConfig is the TLS configuration for HTTPS (optional)
	TLSConfig *tls.Config

	// DisableHealth omits the /health probes.
	DisableHealth bool

	// MetricsPath serves Prometheus metrics when set.
	MetricsPath string

	// CORSOrigins may call the API from a browser.
	CORSOrigins []string

	// Logger is optional.
	Logger *slog.Logger

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes. It
	// must exceed the policy timeout or ceremonies are cut off.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("biometric service is required")
	}

	if cfg.Addr == "" {
		cfg.Addr = ":8443"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.Service.Policy().Timeout + 15*time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(nil)
	}

	log := logging.OrDiscard(cfg.Logger)

	s := &Server{
		handlers:  NewHandlerContext(cfg.Service, log),
		broker:    cfg.Broker,
		limiter:   cfg.Limiter,
		tlsConfig: cfg.TLSConfig,
		cfg:       cfg,
		logger:    log,
	}

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		TLSConfig:         cfg.TLSConfig,
	}

	return s, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.setupRouter(), "biometric.http")
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()
	h := s.handlers

	r.Use(s.RecoveryMiddleware())
	r.Use(s.CorrelationMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	r.Use(CORSMiddleware(s.cfg.CORSOrigins))

	// Kubernetes-style health probes
	if !s.cfg.DisableHealth {
		r.Get("/health/live", h.LivenessHandler)
		r.Get("/health/ready", h.ReadinessHandler)
		r.Get("/health/startup", h.StartupHandler)
	}

	if s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ratelimit.Middleware(s.limiter))

		r.Get("/biometrics", h.AvailabilityHandler)
		r.Get("/metrics", h.MetricsHandler)
		r.Get("/audit", h.AuditHandler)
		r.Delete("/audit", h.ClearAuditHandler)

		r.Route("/users/{user}", func(r chi.Router) {
			r.Use(subjectMiddleware)
			r.Get("/biometrics", h.CapabilitiesHandler)
			r.Get("/primary", h.PrimaryHandler)

			// Authentication is additionally charged per user so one
			// client cannot spread guesses over many addresses.
			r.With(ratelimit.MiddlewareWithKey(s.limiter, userKey)).
				Post("/authenticate", h.AuthenticateHandler)

			r.Route("/biometrics/{modality}", func(r chi.Router) {
				r.Get("/", h.EnrollmentStateHandler)
				r.Delete("/", h.RevokeHandler)
				r.Post("/enroll", h.EnrollHandler)
				r.Post("/refresh", h.RefreshHandler)
			})
		})

		if s.broker != nil {
			r.Route("/ceremonies", func(r chi.Router) {
				ceremony.Mount(r, ceremony.NewHandler(s.broker, s.logger))
			})
		}
	})

	return r
}

// subjectMiddleware tags the request context with the {user} path
// parameter so browser ceremonies it starts are listed for that user.
func subjectMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ceremony.WithSubject(r.Context(), chi.URLParam(r, "user"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userKey charges a request to its {user} path parameter.
func userKey(r *http.Request) string {
	if u := chi.URLParam(r, "user"); u != "" {
		return "user:" + u
	}
	return ""
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.tlsConfig != nil {
		s.logger.Info("starting HTTPS server", slog.String("addr", ln.Addr().String()))
		ln = tls.NewListener(ln, s.tlsConfig)
	} else {
		s.logger.Info("starting HTTP server", slog.String("addr", ln.Addr().String()))
	}

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the REST API server and the limiter.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")
	defer s.limiter.Stop()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Addr returns the bound address once serving, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}
