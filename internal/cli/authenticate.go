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
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-biometrics/pkg/authn"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

func newAuthenticateCmd(cfg *Config) *cobra.Command {
	var (
		userID    string
		modality  string
		challenge string
		enroll    bool
	)

	cmd := &cobra.Command{
		Use:     "authenticate",
		Aliases: []string{"auth"},
		Short:   "Authenticate a user with an enrolled biometric",
		Long: `Authenticate a user. Without --modality the user's primary biometric is
used. The challenge is generated unless --challenge supplies one as
base64url.

Browser environments keep credentials only for the current process, so
--enroll enrolls the modality first within the same invocation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var mod types.Modality
			if modality != "" {
				m, err := types.ParseModality(modality)
				if err != nil {
					return err
				}
				mod = m
			}
			var chal []byte
			if challenge != "" {
				b, err := base64.RawURLEncoding.DecodeString(challenge)
				if err != nil {
					return fmt.Errorf("%w: challenge must be base64url", types.ErrInvalidChallenge)
				}
				chal = b
			}

			rt, err := cfg.OpenRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			svc := rt.Service

			if enroll {
				if mod == "" {
					return fmt.Errorf("--enroll requires --modality")
				}
				if _, err := svc.Enroll(cmd.Context(), mod, userID, types.EnrollOptions{Force: true}); err != nil {
					return err
				}
				printVerbose(cmd, cfg, "enrolled %s", mod)
			}

			result, err := svc.AuthenticateRequest(cmd.Context(), authn.Request{
				UserID:    userID,
				Modality:  mod,
				Challenge: chal,
			})
			if printErr := cfg.Printer(cmd).PrintAuthResult(result, err); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user ID (default: default_user)")
	cmd.Flags().StringVarP(&modality, "modality", "m", "", "modality (default: primary biometric)")
	cmd.Flags().StringVar(&challenge, "challenge", "", "base64url challenge (default: random)")
	cmd.Flags().BoolVar(&enroll, "enroll", false, "enroll --modality before authenticating")
	return cmd
}
