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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-biometrics/pkg/audit"
	"github.com/jeremyhahn/go-biometrics/pkg/correlation"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

func newAuditCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log of a running server",
		Long: `Inspect the in-memory audit log of the server named by --server. The log
lives in the server process, so these commands require a running server.`,
	}
	cmd.AddCommand(newAuditExportCmd(cfg), newAuditClearCmd(cfg))
	return cmd
}

func newAuditExportCmd(cfg *Config) *cobra.Command {
	var (
		eventType  string
		userID     string
		modality   string
		severities []string
		success    string
		since      time.Duration
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit events, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := &audit.Filter{
				Type:   audit.EventType(strings.ToUpper(eventType)),
				UserID: userID,
				Limit:  limit,
			}
			if modality != "" {
				mod, err := types.ParseModality(modality)
				if err != nil {
					return err
				}
				filter.Modality = mod
			}
			for _, s := range severities {
				filter.Severities = append(filter.Severities, audit.EventSeverity(strings.ToLower(s)))
			}
			switch success {
			case "":
			case "true", "false":
				ok := success == "true"
				filter.Success = &ok
			default:
				return errors.New("--success must be true or false")
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			c, err := cfg.Client()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := correlation.WithCorrelationID(cmd.Context(), correlation.NewID())
			printVerbose(cmd, cfg, "querying %s", c.BaseURL())
			resp, err := c.Audit(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to export audit log: %w", err)
			}
			return cfg.Printer(cmd).PrintAuditEvents(resp.Events, resp.Total, resp.Evicted)
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type (enrollment, authentication)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "only events of this user")
	cmd.Flags().StringVarP(&modality, "modality", "m", "", "only events of this modality")
	cmd.Flags().StringSliceVar(&severities, "severity", nil, "only these severities (info, notice, warn, critical)")
	cmd.Flags().StringVar(&success, "success", "", "only successful (true) or failed (false) events")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this duration")
	cmd.Flags().IntVar(&limit, "limit", 0, "return at most this many of the newest events")
	return cmd
}

func newAuditClearCmd(cfg *Config) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every buffered audit event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the audit log without --yes")
			}
			c, err := cfg.Client()
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.ClearAudit(correlation.WithCorrelationID(cmd.Context(), correlation.NewID()))
			if err != nil {
				return fmt.Errorf("failed to clear audit log: %w", err)
			}
			return cfg.Printer(cmd).PrintSuccess(fmt.Sprintf("Cleared %d audit events", n))
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing the audit log")
	return cmd
}
