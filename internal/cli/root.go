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
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the biometric command tree. Each call returns an
// independent tree with its own flag state.
func NewRootCommand() *cobra.Command {
	cfg := NewConfig()

	rootCmd := &cobra.Command{
		Use:   "biometric",
		Short: "go-biometrics CLI - device biometric authentication",
		Long: `go-biometrics CLI enrolls and verifies biometrics on this device and
runs the biometric REST server.

Enrollment and authentication run locally against the configured secure
store. Native environments use the simulated platform bridge; browser
environments use a virtual platform authenticator whose credentials live
only for the current process. Audit commands talk to a running server.

Configuration is read from --config and BIOMETRIC_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfg.ConfigFile, "config", "",
		"config file (default: built-in defaults and BIOMETRIC_* variables)")
	rootCmd.PersistentFlags().StringVarP(&cfg.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false,
		"verbose output")
	rootCmd.PersistentFlags().StringVar(&cfg.Server, "server", DefaultServerURL,
		"biometric server URL for remote commands")
	rootCmd.PersistentFlags().BoolVar(&cfg.TLSInsecure, "tls-insecure", false,
		"skip TLS certificate verification (not recommended)")
	rootCmd.PersistentFlags().StringVar(&cfg.TLSCACert, "tls-ca", "",
		"CA certificate file for the server")

	rootCmd.AddCommand(
		newVersionCmd(cfg),
		newServeCmd(cfg),
		newDetectCmd(cfg),
		newEnrollCmd(cfg),
		newRevokeCmd(cfg),
		newStatusCmd(cfg),
		newAuthenticateCmd(cfg),
		newAuditCmd(cfg),
		newConfigCmd(cfg),
	)

	return rootCmd
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// HandleError prints an error in the requested output format and exits
// with code 1.
func HandleError(err error) {
	format := "text"
	for i, arg := range os.Args {
		if (arg == "-o" || arg == "--output") && i+1 < len(os.Args) {
			format = os.Args[i+1]
		}
		if arg == "--output=json" || arg == "-o=json" {
			format = "json"
		}
	}
	printer := NewPrinter(format, os.Stderr)
	if printErr := printer.PrintError(err); printErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(cmd *cobra.Command, cfg *Config, format string, args ...any) {
	if cfg.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[VERBOSE] "+format+"\n", args...)
	}
}
