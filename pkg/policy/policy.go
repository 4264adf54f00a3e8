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

// Package policy holds the security policy shared by enrollment and
// authentication. A Policy is passive: it carries constraints and performs
// no work of its own.
package policy

import (
	"fmt"
	"time"
)

// Default policy values.
const (
	DefaultMinSamples              = 3
	DefaultQualityThreshold        = 0.8
	DefaultConfidenceThreshold     = 0.9
	DefaultMaxAttempts             = 5
	DefaultLockoutWindow           = 5 * time.Minute
	DefaultTimeout                 = 30 * time.Second
	DefaultTemplateRefreshInterval = 90 * 24 * time.Hour
	DefaultAuditCapacity           = 1000
)

// Policy is the single source of security constants.
type Policy struct {
	// MinSamples is the minimum number of enrollment samples.
	MinSamples int `yaml:"min_samples" json:"min_samples" mapstructure:"min_samples"`

	// QualityThreshold is the minimum aggregate sample quality in [0,1].
	QualityThreshold float64 `yaml:"quality_threshold" json:"quality_threshold" mapstructure:"quality_threshold"`

	// ConfidenceThreshold is the minimum platform match confidence in [0,1].
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold" mapstructure:"confidence_threshold"`

	// MaxAttempts is the number of failed attempts that triggers a lockout.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" mapstructure:"max_attempts"`

	// LockoutWindow is the sliding window failures accumulate in, and the
	// duration of a lockout once triggered.
	LockoutWindow time.Duration `yaml:"lockout_window" json:"lockout_window" mapstructure:"lockout_window"`

	// Timeout bounds every provider ceremony.
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`

	// TemplateRefreshInterval is how long an enrollment stays valid.
	TemplateRefreshInterval time.Duration `yaml:"template_refresh_interval" json:"template_refresh_interval" mapstructure:"template_refresh_interval"`

	// RequireLiveness rejects native matches without a liveness signal.
	RequireLiveness bool `yaml:"require_liveness" json:"require_liveness" mapstructure:"require_liveness"`

	// AllowLivenessOverride accepts a native match below ConfidenceThreshold
	// when liveness was confirmed.
	AllowLivenessOverride bool `yaml:"allow_liveness_override" json:"allow_liveness_override" mapstructure:"allow_liveness_override"`

	// AuditCapacity is the number of audit events retained.
	AuditCapacity int `yaml:"audit_capacity" json:"audit_capacity" mapstructure:"audit_capacity"`
}

// Default returns a policy populated with the default values.
func Default() *Policy {
	return &Policy{
		MinSamples:              DefaultMinSamples,
		QualityThreshold:        DefaultQualityThreshold,
		ConfidenceThreshold:     DefaultConfidenceThreshold,
		MaxAttempts:             DefaultMaxAttempts,
		LockoutWindow:           DefaultLockoutWindow,
		Timeout:                 DefaultTimeout,
		TemplateRefreshInterval: DefaultTemplateRefreshInterval,
		RequireLiveness:         true,
		AuditCapacity:           DefaultAuditCapacity,
	}
}

// SetDefaults sets default values for unset numeric fields. Boolean fields
// keep their zero value.
func (p *Policy) SetDefaults() {
	if p.MinSamples == 0 {
		p.MinSamples = DefaultMinSamples
	}
	if p.QualityThreshold == 0 {
		p.QualityThreshold = DefaultQualityThreshold
	}
	if p.ConfidenceThreshold == 0 {
		p.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.LockoutWindow == 0 {
		p.LockoutWindow = DefaultLockoutWindow
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	if p.TemplateRefreshInterval == 0 {
		p.TemplateRefreshInterval = DefaultTemplateRefreshInterval
	}
	if p.AuditCapacity == 0 {
		p.AuditCapacity = DefaultAuditCapacity
	}
}

// Validate returns an error if the policy is inconsistent.
func (p *Policy) Validate() error {
	if p.MinSamples < 1 {
		return fmt.Errorf("min_samples must be at least 1, got %d", p.MinSamples)
	}
	if p.QualityThreshold < 0 || p.QualityThreshold > 1 {
		return fmt.Errorf("quality_threshold must be within [0,1], got %v", p.QualityThreshold)
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within [0,1], got %v", p.ConfidenceThreshold)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.LockoutWindow <= 0 {
		return fmt.Errorf("lockout_window must be positive, got %s", p.LockoutWindow)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", p.Timeout)
	}
	if p.TemplateRefreshInterval <= 0 {
		return fmt.Errorf("template_refresh_interval must be positive, got %s", p.TemplateRefreshInterval)
	}
	if p.AuditCapacity < 1 {
		return fmt.Errorf("audit_capacity must be at least 1, got %d", p.AuditCapacity)
	}
	if p.AllowLivenessOverride && !p.RequireLiveness {
		return fmt.Errorf("allow_liveness_override requires require_liveness")
	}
	return nil
}

// Clone returns a copy of the policy.
func (p *Policy) Clone() *Policy {
	c := *p
	return &c
}
