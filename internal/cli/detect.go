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
	"github.com/spf13/cobra"
)

func newDetectCmd(cfg *Config) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect biometric capabilities of this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := cfg.OpenRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			svc := rt.Service
			return cfg.Printer(cmd).PrintCapabilities(
				svc.Metrics(cmd.Context()),
				svc.Environment().Method(),
				svc.Capabilities(cmd.Context(), userID))
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user whose enrollments are reported (default: default_user)")
	return cmd
}
