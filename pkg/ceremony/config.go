// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package ceremony

import (
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// Config configures the ceremony service.
type Config struct {
	// RPDisplayName is the human-readable name of the relying party.
	RPDisplayName string `yaml:"display_name" json:"display_name"`

	// RPID optionally pins the relying party identifier. When empty the RP
	// identity is bound to the caller's effective domain at request time,
	// which lets one build serve multiple environments.
	RPID string `yaml:"id,omitempty" json:"id,omitempty"`

	// RPOrigins optionally pins the allowed web origins. When empty the
	// origin is derived from the effective domain over https.
	RPOrigins []string `yaml:"origins,omitempty" json:"origins,omitempty"`

	// Timeout is the ceremony timeout presented to authenticators.
	// Default: 60 seconds.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// StateTTL bounds how long issued options can be consumed. After this a
	// pending ceremony is treated as cancelled. Default: 60 seconds.
	StateTTL time.Duration `yaml:"state_ttl" json:"state_ttl"`

	// UserVerification is the requested user verification policy.
	// Options: "required", "preferred", "discouraged". Default: "required".
	UserVerification string `yaml:"user_verification" json:"user_verification"`

	// AttestationPreference is the attestation conveyance preference.
	// Options: "none", "indirect", "direct", "enterprise". Default: "direct".
	AttestationPreference string `yaml:"attestation" json:"attestation"`

	// ResidentKeyRequirement controls discoverable credential creation.
	// Options: "required", "preferred", "discouraged". Default: "preferred".
	ResidentKeyRequirement string `yaml:"resident_key" json:"resident_key"`

	// AuthenticatorAttachment limits the authenticator types allowed.
	// Options: "platform", "cross-platform", "" (any). Default: "" (any).
	AuthenticatorAttachment string `yaml:"authenticator_attachment,omitempty" json:"authenticator_attachment,omitempty"`

	// Algorithms are the accepted credential algorithms, most preferred
	// first. Options: "ES256", "RS256". Default: both.
	Algorithms []string `yaml:"algorithms,omitempty" json:"algorithms,omitempty"`
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.StateTTL == 0 {
		c.StateTTL = 60 * time.Second
	}
	if c.UserVerification == "" {
		c.UserVerification = "required"
	}
	if c.AttestationPreference == "" {
		c.AttestationPreference = "direct"
	}
	if c.ResidentKeyRequirement == "" {
		c.ResidentKeyRequirement = "preferred"
	}
	if len(c.Algorithms) == 0 {
		c.Algorithms = []string{"ES256", "RS256"}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.RPDisplayName == "" {
		return fmt.Errorf("RPDisplayName is required")
	}

	switch c.UserVerification {
	case "", "required", "preferred", "discouraged":
	default:
		return fmt.Errorf("invalid user verification: %s", c.UserVerification)
	}

	switch c.AttestationPreference {
	case "", "none", "indirect", "direct", "enterprise":
	default:
		return fmt.Errorf("invalid attestation preference: %s", c.AttestationPreference)
	}

	switch c.ResidentKeyRequirement {
	case "", "required", "preferred", "discouraged":
	default:
		return fmt.Errorf("invalid resident key requirement: %s", c.ResidentKeyRequirement)
	}

	switch c.AuthenticatorAttachment {
	case "", "platform", "cross-platform":
	default:
		return fmt.Errorf("invalid authenticator attachment: %s", c.AuthenticatorAttachment)
	}

	for _, alg := range c.Algorithms {
		switch alg {
		case "ES256", "RS256":
		default:
			return fmt.Errorf("unsupported algorithm: %s", alg)
		}
	}

	if c.Timeout < 0 || c.StateTTL < 0 {
		return fmt.Errorf("timeout and state TTL must be positive")
	}

	return nil
}

// RelyingParty resolves the RP identity for the caller's effective domain.
// A pinned RPID takes precedence; otherwise the request-time domain is used.
func (c *Config) RelyingParty(domain string) RelyingParty {
	id := c.RPID
	if id == "" {
		id = domain
	}
	origins := c.RPOrigins
	if len(origins) == 0 {
		origins = []string{"https://" + id}
	}
	return RelyingParty{
		ID:      id,
		Name:    c.RPDisplayName,
		Origins: origins,
	}
}

// userVerification returns the configured policy as a protocol value.
func (c *Config) userVerification() protocol.UserVerificationRequirement {
	switch c.UserVerification {
	case "preferred":
		return protocol.VerificationPreferred
	case "discouraged":
		return protocol.VerificationDiscouraged
	default:
		return protocol.VerificationRequired
	}
}

// attestation returns the configured preference as a protocol value.
func (c *Config) attestation() protocol.ConveyancePreference {
	switch c.AttestationPreference {
	case "none":
		return protocol.PreferNoAttestation
	case "indirect":
		return protocol.PreferIndirectAttestation
	case "enterprise":
		return protocol.PreferEnterpriseAttestation
	default:
		return protocol.PreferDirectAttestation
	}
}

// authenticatorSelection returns the configured selection criteria.
func (c *Config) authenticatorSelection() protocol.AuthenticatorSelection {
	sel := protocol.AuthenticatorSelection{
		UserVerification: c.userVerification(),
	}
	switch c.ResidentKeyRequirement {
	case "required":
		sel.ResidentKey = protocol.ResidentKeyRequirementRequired
		rrk := true
		sel.RequireResidentKey = &rrk
	case "discouraged":
		sel.ResidentKey = protocol.ResidentKeyRequirementDiscouraged
	default:
		sel.ResidentKey = protocol.ResidentKeyRequirementPreferred
	}
	switch c.AuthenticatorAttachment {
	case "platform":
		sel.AuthenticatorAttachment = protocol.Platform
	case "cross-platform":
		sel.AuthenticatorAttachment = protocol.CrossPlatform
	}
	return sel
}

// credentialParameters returns the configured algorithm list as protocol
// credential parameters.
func (c *Config) credentialParameters() []protocol.CredentialParameter {
	params := make([]protocol.CredentialParameter, 0, len(c.Algorithms))
	for _, alg := range c.Algorithms {
		switch alg {
		case "ES256":
			params = append(params, protocol.CredentialParameter{
				Type:      protocol.PublicKeyCredentialType,
				Algorithm: webauthncose.AlgES256,
			})
		case "RS256":
			params = append(params, protocol.CredentialParameter{
				Type:      protocol.PublicKeyCredentialType,
				Algorithm: webauthncose.AlgRS256,
			})
		}
	}
	return params
}
