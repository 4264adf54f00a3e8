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

package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// EventType categorizes audit events.
type EventType string

const (
	TypeEnrollment     EventType = "ENROLLMENT"
	TypeAuthentication EventType = "AUTHENTICATION"
)

// EventSeverity indicates the importance of an event.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityNotice   EventSeverity = "notice"
	SeverityWarn     EventSeverity = "warn"
	SeverityCritical EventSeverity = "critical"
)

// Event is a single audit entry.
type Event struct {
	// ID is a unique identifier for this audit event
	ID string `json:"id"`

	// Timestamp when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event
	Type EventType `json:"type"`

	// Modality is the biometric modality involved
	Modality types.Modality `json:"modality"`

	// UserID is the enrolled or authenticating user
	UserID string `json:"user_id"`

	// Success indicates whether the operation succeeded
	Success bool `json:"success"`

	// Severity indicates the importance level
	Severity EventSeverity `json:"severity"`

	// Reason is the machine-readable failure reason, empty on success
	Reason string `json:"reason,omitempty"`

	// CorrelationID correlates this event with a request
	CorrelationID string `json:"correlation_id,omitempty"`

	// Metadata stores additional context (confidence, liveness, method, ...)
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// SeverityFor maps an operation outcome to an event severity.
func SeverityFor(err error) EventSeverity {
	switch {
	case err == nil:
		return SeverityInfo
	case types.IsSecurityRelevant(err):
		return SeverityCritical
	case types.IsRetryable(err),
		errors.Is(err, types.ErrNotEnrolled),
		errors.Is(err, types.ErrAlreadyEnrolled),
		errors.Is(err, types.ErrUnsupportedModality):
		return SeverityNotice
	default:
		return SeverityWarn
	}
}

// Logger is the write side of the audit trail consumed by the managers.
type Logger interface {
	// Log records an event. It never fails.
	Log(ctx context.Context, event *Event)
}

// Sink receives a copy of every logged event.
type Sink interface {
	Write(ctx context.Context, event *Event) error
}

// Filter selects events from the buffer. Zero fields match everything.
type Filter struct {
	Type       EventType
	UserID     string
	Modality   types.Modality
	Severities []EventSeverity
	Success    *bool
	Since      time.Time
	Limit      int
}

func (f *Filter) matches(e *Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Modality != "" && e.Modality != f.Modality {
		return false
	}
	if len(f.Severities) > 0 {
		matched := false
		for _, s := range f.Severities {
			if e.Severity == s {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
