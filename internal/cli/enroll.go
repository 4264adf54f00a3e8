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

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

func newEnrollCmd(cfg *Config) *cobra.Command {
	var (
		userID string
		opts   types.EnrollOptions
		meta   map[string]string
	)

	cmd := &cobra.Command{
		Use:   "enroll <modality>",
		Short: "Enroll a biometric for a user",
		Long: `Run an enrollment ceremony for the given modality (fingerprint, face,
iris or voice) and persist the resulting enrollment record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod, err := types.ParseModality(args[0])
			if err != nil {
				return err
			}
			rt, err := cfg.OpenRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			opts.Metadata = meta
			printVerbose(cmd, cfg, "enrolling %s for %q", mod, userID)
			rec, err := rt.Service.Enroll(cmd.Context(), mod, userID, opts)
			if err != nil {
				return err
			}
			return cfg.Printer(cmd).PrintEnrollment(rec)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user ID (default: default_user)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "replace an existing enrollment")
	cmd.Flags().StringVar(&opts.DisplayName, "display-name", "", "name shown by browser authenticators")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata recorded on the enrollment (key=value)")
	return cmd
}

func newRevokeCmd(cfg *Config) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "revoke <modality>",
		Short: "Revoke a user's enrollment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod, err := types.ParseModality(args[0])
			if err != nil {
				return err
			}
			rt, err := cfg.OpenRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Service.Revoke(cmd.Context(), mod, userID); err != nil {
				return err
			}
			return cfg.Printer(cmd).PrintSuccess(fmt.Sprintf("Revoked %s enrollment", mod))
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user ID (default: default_user)")
	return cmd
}

func newStatusCmd(cfg *Config) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "status <modality>",
		Short: "Show the enrollment state of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod, err := types.ParseModality(args[0])
			if err != nil {
				return err
			}
			rt, err := cfg.OpenRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			state, err := rt.Service.EnrollmentState(cmd.Context(), mod, userID)
			if err != nil {
				return err
			}
			return cfg.Printer(cmd).PrintState(rt.Service.ResolveUser(userID), mod, state)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user ID (default: default_user)")
	return cmd
}
