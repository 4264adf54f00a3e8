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

package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/jeremyhahn/go-biometrics/internal/config"
	"github.com/jeremyhahn/go-biometrics/internal/rest"
	"github.com/jeremyhahn/go-biometrics/pkg/ceremony"
	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/metrics"
	"github.com/jeremyhahn/go-biometrics/pkg/ratelimit"
)

// Server runs the biometric service behind the REST API.
type Server struct {
	config  *config.Config
	mu      sync.RWMutex
	logger  *slog.Logger
	runtime *Runtime
	broker  *ceremony.Broker

	restServer *rest.Server
	limiter    *ratelimit.Limiter

	// Metrics
	metricsCollector *metrics.Collector

	telemetryShutdown func(context.Context) error

	// Lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	shutdownCh chan struct{}
}

// New creates a server from cfg. In a browser environment ceremonies are
// relayed to the browser through the ceremony endpoints.
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return NewWithLogger(cfg, logger)
}

// NewWithLogger creates a server that logs to logger.
func NewWithLogger(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:     cfg,
		logger:     logging.OrDiscard(logger),
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan struct{}),
	}

	s.broker = ceremony.NewBroker(s.logger)
	rt, err := NewRuntime(ctx, cfg, RuntimeOptions{Client: s.broker, Logger: s.logger})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize biometric service: %w", err)
	}
	s.runtime = rt
	if rt.RelyingParty == nil {
		// Native providers never use the relay.
		s.broker = nil
	}

	tlsConfig, err := cfg.TLS.Load()
	if err != nil {
		cancel()
		_ = rt.Close()
		return nil, err
	}

	s.limiter = ratelimit.New(&cfg.RateLimit)

	restConfig := &rest.Config{
		Service:       rt.Service,
		Broker:        s.broker,
		Limiter:       s.limiter,
		Addr:          cfg.Server.Addr(),
		TLSConfig:     tlsConfig,
		DisableHealth: !cfg.Health.Enabled,
		CORSOrigins:   cfg.WebAuthn.RPOrigins,
		Logger:        s.logger,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
	}
	if cfg.Metrics.Enabled {
		restConfig.MetricsPath = cfg.Metrics.Path
	}
	s.restServer, err = rest.NewServer(restConfig)
	if err != nil {
		cancel()
		s.limiter.Stop()
		_ = rt.Close()
		return nil, fmt.Errorf("failed to create REST server: %w", err)
	}

	return s, nil
}

// getBuildVersion retrieves the version from build information
func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.version" {
			if setting.Value != "" && setting.Value != "devel" {
				return setting.Value
			}
		}
		if setting.Key == "vcs.revision" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	return "dev"
}

// Start initializes telemetry and metrics and starts the REST server in
// the background.
func (s *Server) Start() error {
	s.logger.Info("Starting biometric server...")

	shutdown, err := rest.SetupTelemetry(s.ctx, rest.TelemetryConfig{
		Enabled:        s.config.Telemetry.Enabled,
		Endpoint:       s.config.Telemetry.Endpoint,
		Insecure:       s.config.Telemetry.Insecure,
		ServiceName:    s.config.Telemetry.ServiceName,
		ServiceVersion: getBuildVersion(),
		SampleRatio:    s.config.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown

	if s.config.Metrics.Enabled {
		s.initializeMetrics()
	} else {
		metrics.Disable()
	}

	s.wg.Add(1)
	go s.startREST()

	s.logger.Info("Biometric server started",
		slog.String("addr", s.config.Server.Addr()),
		slog.String("method", s.runtime.Service.Environment().Method()),
		slog.Bool("ceremony_relay", s.broker != nil))

	return nil
}

// initializeMetrics enables metrics and starts the collector.
func (s *Server) initializeMetrics() {
	metrics.Enable()
	s.metricsCollector = metrics.StartCollector(s.ctx, s.config.Metrics.Interval, s.runtime.Service.MetricsSource())
	s.logger.Info("Metrics initialized",
		slog.String("path", s.config.Metrics.Path),
		slog.Duration("interval", s.config.Metrics.Interval))
}

// startREST runs the REST server until Shutdown.
func (s *Server) startREST() {
	defer s.wg.Done()

	s.logger.Info("Starting REST server", slog.String("addr", s.config.Server.Addr()))
	if err := s.restServer.Start(); err != nil {
		s.logger.Error("REST server error", slog.Any("error", err))
		s.cancel()
	}
}

// Shutdown stops the REST server, flushes telemetry and closes storage.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server...")

	if s.metricsCollector != nil {
		s.metricsCollector.Stop()
	}

	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.restServer.Stop(shutdownCtx); err != nil {
		s.logger.Error("Error shutting down REST server", slog.Any("error", err))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All servers stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	if s.telemetryShutdown != nil {
		if err := s.telemetryShutdown(shutdownCtx); err != nil {
			s.logger.Error("Error flushing telemetry", slog.Any("error", err))
		}
	}

	var closeErr error
	if err := s.runtime.Close(); err != nil {
		closeErr = fmt.Errorf("failed to close storage: %w", err)
	}

	close(s.shutdownCh)
	s.logger.Info("Server shutdown complete")

	return closeErr
}

// Done is closed when the server stops on its own, for example when the
// listener fails.
func (s *Server) Done() <-chan struct{} {
	return s.ctx.Done()
}

// WaitForShutdown blocks until Shutdown completes.
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}

// RESTServer returns the REST server.
func (s *Server) RESTServer() *rest.Server {
	return s.restServer
}

// Runtime returns the service runtime.
func (s *Server) Runtime() *Runtime {
	return s.runtime
}
