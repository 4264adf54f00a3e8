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

package webauthn

import (
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Config configures the relying party for browser biometric ceremonies.
type Config struct {
	// RPID is the Relying Party identifier, typically the domain name.
	// Example: "example.com"
	RPID string `yaml:"id" json:"id" mapstructure:"id"`

	// RPDisplayName is the human-readable name of the Relying Party.
	// Example: "Example Corp"
	RPDisplayName string `yaml:"display_name" json:"display_name" mapstructure:"display_name"`

	// RPOrigins are the allowed origins for WebAuthn operations.
	// Example: []string{"https://example.com", "https://www.example.com"}
	RPOrigins []string `yaml:"origins" json:"origins" mapstructure:"origins"`

	// Timeout bounds how long an issued challenge remains valid.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`

	// UserVerification specifies the user verification requirement for
	// registration. Login always requires verification since the
	// verification is the biometric.
	// Options: "required", "preferred"
	// Default: "required"
	UserVerification string `yaml:"user_verification" json:"user_verification" mapstructure:"user_verification"`

	// AttestationPreference specifies the attestation conveyance preference.
	// Options: "none", "indirect", "direct", "enterprise"
	// Default: "none"
	AttestationPreference string `yaml:"attestation" json:"attestation" mapstructure:"attestation"`

	// ResidentKeyRequirement specifies whether to require resident keys.
	// Options: "required", "preferred", "discouraged"
	// Default: "discouraged"
	ResidentKeyRequirement string `yaml:"resident_key" json:"resident_key" mapstructure:"resident_key"`

	// AuthenticatorAttachment limits the type of authenticators allowed.
	// Biometric modalities live in platform authenticators.
	// Options: "platform", "cross-platform"
	// Default: "platform"
	AuthenticatorAttachment string `yaml:"authenticator_attachment" json:"authenticator_attachment" mapstructure:"authenticator_attachment"`

	// Debug enables debug logging.
	Debug bool `yaml:"debug" json:"debug" mapstructure:"debug"`
}

var (
	userVerifications = map[string]protocol.UserVerificationRequirement{
		"required":  protocol.VerificationRequired,
		"preferred": protocol.VerificationPreferred,
	}
	attestationPreferences = map[string]protocol.ConveyancePreference{
		"none":       protocol.PreferNoAttestation,
		"indirect":   protocol.PreferIndirectAttestation,
		"direct":     protocol.PreferDirectAttestation,
		"enterprise": protocol.PreferEnterpriseAttestation,
	}
	residentKeys = map[string]protocol.ResidentKeyRequirement{
		"required":    protocol.ResidentKeyRequirementRequired,
		"preferred":   protocol.ResidentKeyRequirementPreferred,
		"discouraged": protocol.ResidentKeyRequirementDiscouraged,
	}
	attachments = map[string]protocol.AuthenticatorAttachment{
		"platform":       protocol.Platform,
		"cross-platform": protocol.CrossPlatform,
	}
)

// oneOf reports whether v is empty or a key of m.
func oneOf[V any](m map[string]V, v string) bool {
	if v == "" {
		return true
	}
	_, ok := m[v]
	return ok
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch {
	case c.RPID == "":
		return fmt.Errorf("RPID is required")
	case c.RPDisplayName == "":
		return fmt.Errorf("RPDisplayName is required")
	case len(c.RPOrigins) == 0:
		return fmt.Errorf("at least one RPOrigin is required")
	case !oneOf(userVerifications, c.UserVerification):
		return fmt.Errorf("invalid user verification: %s", c.UserVerification)
	case !oneOf(attestationPreferences, c.AttestationPreference):
		return fmt.Errorf("invalid attestation preference: %s", c.AttestationPreference)
	case !oneOf(residentKeys, c.ResidentKeyRequirement):
		return fmt.Errorf("invalid resident key requirement: %s", c.ResidentKeyRequirement)
	case !oneOf(attachments, c.AuthenticatorAttachment):
		return fmt.Errorf("invalid authenticator attachment: %s", c.AuthenticatorAttachment)
	}
	return nil
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.UserVerification == "" {
		c.UserVerification = "required"
	}
	if c.AttestationPreference == "" {
		c.AttestationPreference = "none"
	}
	if c.ResidentKeyRequirement == "" {
		c.ResidentKeyRequirement = "discouraged"
	}
	if c.AuthenticatorAttachment == "" {
		c.AuthenticatorAttachment = "platform"
	}
}

// HasOrigin reports whether origin is one of the configured origins.
func (c *Config) HasOrigin(origin string) bool {
	for _, o := range c.RPOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// ToWebAuthnConfig converts the Config to the go-webauthn library's configuration.
func (c *Config) ToWebAuthnConfig() *webauthn.Config {
	cfg := &webauthn.Config{
		RPID:                  c.RPID,
		RPDisplayName:         c.RPDisplayName,
		RPOrigins:             c.RPOrigins,
		Debug:                 c.Debug,
		AttestationPreference: attestationPreferences[c.AttestationPreference],
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification:        userVerifications[c.UserVerification],
			ResidentKey:             residentKeys[c.ResidentKeyRequirement],
			AuthenticatorAttachment: attachments[c.AuthenticatorAttachment],
		},
	}

	if c.Timeout > 0 {
		ceremony := webauthn.TimeoutConfig{Enforce: true, Timeout: c.Timeout, TimeoutUVD: c.Timeout}
		cfg.Timeouts = webauthn.TimeoutsConfig{Login: ceremony, Registration: ceremony}
	}
	return cfg
}
