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
	"fmt"
	"log/slog"

	"github.com/jeremyhahn/go-biometrics/internal/config"
	"github.com/jeremyhahn/go-biometrics/pkg/logging"
)

// Reload applies the parts of cfg that can change without a restart.
// Only logging is reloadable; storage, policy and listener changes need a
// restart.
func (s *Server) Reload(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Reloading server configuration...")

	if err := s.reloadLogging(cfg); err != nil {
		return fmt.Errorf("failed to reload logging configuration: %w", err)
	}

	s.config.Logging = cfg.Logging

	s.logger.Info("Server configuration reloaded successfully")

	return nil
}

// reloadLogging swaps the process default logger when the level or format
// changed. Components created at startup keep their logger.
func (s *Server) reloadLogging(cfg *config.Config) error {
	if cfg.Logging.Level == s.config.Logging.Level &&
		cfg.Logging.Format == s.config.Logging.Format {
		return nil
	}

	s.logger.Info("Updating logging configuration",
		slog.String("old_level", s.config.Logging.Level),
		slog.String("new_level", cfg.Logging.Level),
		slog.String("old_format", s.config.Logging.Format),
		slog.String("new_format", cfg.Logging.Format))

	newLogger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	s.logger = newLogger
	slog.SetDefault(newLogger)

	s.logger.Info("Logging configuration updated",
		slog.String("level", cfg.Logging.Level),
		slog.String("format", cfg.Logging.Format))

	return nil
}

// Logger returns the current server logger.
func (s *Server) Logger() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}
