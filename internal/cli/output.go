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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeremyhahn/go-biometrics/pkg/audit"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintCapabilities prints the detected capabilities of the device.
func (p *Printer) PrintCapabilities(m types.Metrics, method string, caps []types.Capability) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"method":          method,
			"hardware_secure": m.HardwareSecure,
			"enrolled_count":  m.EnrolledCount,
			"capabilities":    caps,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Method:          %s\n", method)
		fmt.Fprintf(p.writer, "Hardware Secure: %t\n", m.HardwareSecure)
		fmt.Fprintf(p.writer, "Enrollments:     %d\n", m.EnrolledCount)
		if len(caps) == 0 {
			fmt.Fprintln(p.writer, "No biometric capabilities found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-12s %-20s %-10s %-10s\n", "MODALITY", "NATIVE ID", "PRIORITY", "ENROLLED")
		fmt.Fprintln(p.writer, strings.Repeat("-", 55))
		for _, c := range caps {
			fmt.Fprintf(p.writer, "%-12s %-20s %-10d %-10t\n",
				c.Modality, c.NativeIdentifier, c.Priority, c.IsEnrolled)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintEnrollment prints an enrollment record.
func (p *Printer) PrintEnrollment(rec *types.EnrollmentRecord) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(rec)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Enrollment:\n")
		fmt.Fprintf(p.writer, "  User:      %s\n", rec.UserID)
		fmt.Fprintf(p.writer, "  Modality:  %s\n", rec.Modality)
		fmt.Fprintf(p.writer, "  Template:  %s\n", rec.TemplateID)
		fmt.Fprintf(p.writer, "  Quality:   %.2f\n", rec.QualityScore)
		fmt.Fprintf(p.writer, "  Enrolled:  %s\n", rec.EnrolledAt.Format(time.RFC3339))
		fmt.Fprintf(p.writer, "  Expires:   %s\n", rec.ExpiresAt.Format(time.RFC3339))
		fmt.Fprintf(p.writer, "  Device:    %s\n", rec.DeviceID)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintState prints the enrollment state of a (user, modality) pair.
func (p *Printer) PrintState(userID string, mod types.Modality, state types.EnrollmentState) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"user_id":  userID,
			"modality": mod,
			"state":    state,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "%s/%s: %s\n", userID, mod, state)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAuthResult prints an authentication result. err is the failure
// reported alongside it, if any.
func (p *Printer) PrintAuthResult(result *types.AuthenticationResult, err error) error {
	switch p.format {
	case OutputFormatJSON:
		out := map[string]any{"result": result}
		if err != nil {
			out["error"] = err.Error()
		}
		return p.printJSON(out)
	case OutputFormatText:
		status := "SUCCESS"
		if !result.Success {
			status = "FAILED"
		}
		fmt.Fprintf(p.writer, "Authentication %s\n", status)
		fmt.Fprintf(p.writer, "  User:       %s\n", result.UserID)
		fmt.Fprintf(p.writer, "  Modality:   %s\n", result.Modality)
		fmt.Fprintf(p.writer, "  Method:     %s\n", result.Method)
		fmt.Fprintf(p.writer, "  Confidence: %.2f\n", result.Confidence)
		fmt.Fprintf(p.writer, "  Liveness:   %t\n", result.Liveness)
		if result.Reason != "" {
			fmt.Fprintf(p.writer, "  Reason:     %s\n", result.Reason)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAuditEvents prints audit events, oldest first.
func (p *Printer) PrintAuditEvents(events []*audit.Event, total, evicted uint64) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"events":  events,
			"total":   total,
			"evicted": evicted,
		})
	case OutputFormatText:
		if len(events) == 0 {
			fmt.Fprintln(p.writer, "No audit events found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-25s %-15s %-12s %-20s %-8s %-9s %s\n",
			"TIMESTAMP", "TYPE", "MODALITY", "USER", "SUCCESS", "SEVERITY", "REASON")
		fmt.Fprintln(p.writer, strings.Repeat("-", 110))
		for _, e := range events {
			fmt.Fprintf(p.writer, "%-25s %-15s %-12s %-20s %-8t %-9s %s\n",
				e.Timestamp.Format(time.RFC3339), e.Type, e.Modality, e.UserID,
				e.Success, e.Severity, e.Reason)
		}
		fmt.Fprintf(p.writer, "\n%d shown, %d recorded, %d evicted\n", len(events), total, evicted)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status": "error",
			"reason": types.Reason(err),
			"error":  err.Error(),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func (p *Printer) printJSON(data any) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
