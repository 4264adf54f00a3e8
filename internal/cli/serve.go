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

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-biometrics/internal/config"
	"github.com/jeremyhahn/go-biometrics/internal/server"
)

func newServeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the biometric REST server",
		Long: `Run the biometric REST server until interrupted. SIGHUP reloads the
logging configuration from --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := cfg.Load()
			if err != nil {
				return err
			}
			logger, err := cfg.Logger(cmd, appCfg)
			if err != nil {
				return err
			}

			srv, err := server.NewWithLogger(appCfg, logger)
			if err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				_ = srv.Shutdown()
				return err
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(signals)

			for {
				select {
				case <-cmd.Context().Done():
					return srv.Shutdown()
				case <-srv.Done():
					_ = srv.Shutdown()
					return fmt.Errorf("server stopped unexpectedly")
				case sig := <-signals:
					if sig != syscall.SIGHUP {
						return srv.Shutdown()
					}
					reloaded, err := config.Load(cfg.ConfigFile)
					if err != nil {
						logger.Error("failed to reload configuration", "error", err)
						continue
					}
					if err := srv.Reload(reloaded); err != nil {
						logger.Error("failed to apply configuration", "error", err)
					}
				}
			}
		},
	}
}
