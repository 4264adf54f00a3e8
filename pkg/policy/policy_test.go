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

package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	assert.Equal(t, 3, p.MinSamples)
	assert.Equal(t, 0.8, p.QualityThreshold)
	assert.Equal(t, 0.9, p.ConfidenceThreshold)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 30*time.Second, p.Timeout)
	assert.Equal(t, 90*24*time.Hour, p.TemplateRefreshInterval)
	assert.True(t, p.RequireLiveness)
	assert.False(t, p.AllowLivenessOverride)
}

func TestSetDefaults(t *testing.T) {
	p := &Policy{MaxAttempts: 2}
	p.SetDefaults()
	assert.Equal(t, 2, p.MaxAttempts)
	assert.Equal(t, DefaultMinSamples, p.MinSamples)
	assert.Equal(t, DefaultLockoutWindow, p.LockoutWindow)
	assert.Equal(t, DefaultAuditCapacity, p.AuditCapacity)
	require.NoError(t, p.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr string
	}{
		{"min samples", func(p *Policy) { p.MinSamples = 0 }, "min_samples"},
		{"quality above one", func(p *Policy) { p.QualityThreshold = 1.5 }, "quality_threshold"},
		{"negative confidence", func(p *Policy) { p.ConfidenceThreshold = -0.1 }, "confidence_threshold"},
		{"max attempts", func(p *Policy) { p.MaxAttempts = 0 }, "max_attempts"},
		{"lockout window", func(p *Policy) { p.LockoutWindow = 0 }, "lockout_window"},
		{"timeout", func(p *Policy) { p.Timeout = -time.Second }, "timeout"},
		{"refresh interval", func(p *Policy) { p.TemplateRefreshInterval = 0 }, "template_refresh_interval"},
		{"audit capacity", func(p *Policy) { p.AuditCapacity = 0 }, "audit_capacity"},
		{"override without liveness", func(p *Policy) {
			p.RequireLiveness = false
			p.AllowLivenessOverride = true
		}, "allow_liveness_override"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClone(t *testing.T) {
	p := Default()
	c := p.Clone()
	c.MaxAttempts = 9
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
}
