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
	"log/slog"
)

// SlogSink writes audit events to a structured logger. Critical events are
// logged at error level so they stand out from benign failures.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "audit")}
}

// Write logs the event.
func (s *SlogSink) Write(ctx context.Context, e *Event) error {
	level := slog.LevelInfo
	switch e.Severity {
	case SeverityCritical:
		level = slog.LevelError
	case SeverityWarn, SeverityNotice:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event_id", e.ID),
		slog.String("type", string(e.Type)),
		slog.String("modality", e.Modality.String()),
		slog.String("user_id", e.UserID),
		slog.Bool("success", e.Success),
		slog.String("severity", string(e.Severity)),
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	if e.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", e.CorrelationID))
	}
	for k, v := range e.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}

	s.logger.LogAttrs(ctx, level, "audit event", attrs...)
	return nil
}
