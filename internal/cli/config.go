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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-biometrics/internal/config"
	"github.com/jeremyhahn/go-biometrics/internal/server"
	"github.com/jeremyhahn/go-biometrics/pkg/client"
	"github.com/jeremyhahn/go-biometrics/pkg/logging"
)

// DefaultServerURL matches the default server listen address.
const DefaultServerURL = "http://127.0.0.1:8443"

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool

	// Server is the URL of the biometric server used by remote commands.
	Server string

	// TLSInsecure skips TLS certificate verification (not recommended)
	TLSInsecure bool

	// TLSCACert is the path to the CA certificate file
	TLSCACert string
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: "text",
		Server:       DefaultServerURL,
	}
}

// Load reads the service configuration. Verbose mode lowers the log level
// to debug.
func (c *Config) Load() (*config.Config, error) {
	cfg, err := config.Load(c.ConfigFile)
	if err != nil {
		return nil, err
	}
	if c.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// Logger creates a logger writing to the command's stderr.
func (c *Config) Logger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	return logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logging)
}

// OpenRuntime loads the configuration and assembles a local service.
func (c *Config) OpenRuntime(cmd *cobra.Command) (*server.Runtime, error) {
	cfg, err := c.Load()
	if err != nil {
		return nil, err
	}
	logger, err := c.Logger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	printVerbose(cmd, c, "storage: %s at %s", cfg.Storage.Backend, cfg.Storage.Path)
	rt, err := server.NewRuntime(cmd.Context(), cfg, server.RuntimeOptions{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open biometric service: %w", err)
	}
	return rt, nil
}

// Printer returns a printer for the command's stdout.
func (c *Config) Printer(cmd *cobra.Command) *Printer {
	return NewPrinter(c.OutputFormat, cmd.OutOrStdout())
}

// Client returns a client for the server named by --server.
func (c *Config) Client() (*client.Client, error) {
	return client.New(&client.Config{
		Address:               c.Server,
		TLSInsecureSkipVerify: c.TLSInsecure,
		TLSCAFile:             c.TLSCACert,
	})
}
