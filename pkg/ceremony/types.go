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
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Kind identifies which ceremony state machine a pending state belongs to.
// A session may hold at most one live state per kind.
type Kind string

const (
	// KindRegistration is the attestation (credential enrollment) ceremony.
	KindRegistration Kind = "registration"

	// KindAuthentication is the assertion (login) ceremony.
	KindAuthentication Kind = "authentication"
)

// State is one in-flight ceremony: the issued challenge plus the metadata
// needed to finish it. States are created on an options request, consumed
// exactly once on response submission, and treated as absent after expiry.
type State struct {
	// Kind is the ceremony this state belongs to.
	Kind Kind `json:"kind"`

	// Challenge is the single-use random value the authenticator must sign.
	Challenge Challenge `json:"challenge"`

	// UserID is the target user for registration, or the identified user for
	// authentication. Empty for discoverable authentication, where the user
	// is resolved from the asserted user handle.
	UserID string `json:"user_id,omitempty"`

	// Label is the friendly device name supplied at registration.
	Label string `json:"label,omitempty"`

	// CreatedAt is when the options were issued.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt bounds how long the ceremony can be resumed. After this the
	// state is treated as cancelled.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the state is past its TTL.
func (s *State) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// User is the external account entity referenced by this package. It is
// never mutated here; credential rows carry its ID as a foreign key.
type User struct {
	// ID is the account identifier in the external user system.
	ID string `json:"id"`

	// Name is the account name presented to authenticators (typically an
	// email address).
	Name string `json:"name"`

	// DisplayName is the human-readable name presented to authenticators.
	DisplayName string `json:"display_name"`

	// Handle is the opaque WebAuthn user handle bound to credentials at
	// registration.
	Handle []byte `json:"handle"`
}

// Credential is a durable record of one enrolled authenticator bound to one
// user. Created on successful registration; mutated only to advance the
// signature counter and last-used timestamp; deleted only by its owner.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	// Globally unique across all users.
	ID []byte `json:"id"`

	// UserID is the owning user. Immutable after creation.
	UserID string `json:"user_id"`

	// UserHandle is the WebAuthn user handle bound at registration.
	UserHandle []byte `json:"user_handle"`

	// PublicKey is the credential public key in the verifier's encoding
	// (COSE). Opaque to this package.
	PublicKey []byte `json:"public_key"`

	// SignCount is the authenticator's signature counter. Monotonically
	// non-decreasing; advanced only through a compare-and-set update.
	SignCount uint32 `json:"sign_count"`

	// Type is the credential type/algorithm tag reported at attestation.
	Type string `json:"type"`

	// AttestationType indicates the attestation format used at enrollment.
	AttestationType string `json:"attestation_type,omitempty"`

	// AAGUID identifies the authenticator model.
	AAGUID []byte `json:"aaguid,omitempty"`

	// Transport lists the transports the authenticator reported.
	Transport []protocol.AuthenticatorTransport `json:"transport,omitempty"`

	// Label is the friendly device name given at registration.
	Label string `json:"label,omitempty"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// Descriptor returns the credential as a WebAuthn descriptor for
// exclude/allow lists.
func (c *Credential) Descriptor() protocol.CredentialDescriptor {
	return protocol.CredentialDescriptor{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: c.ID,
		Transport:    c.Transport,
	}
}

// ToWebAuthn converts the credential to the verifier library's type.
func (c *Credential) ToWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transport,
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

// RelyingParty is the verifying service's identity as presented to
// authenticators. The ID is bound to the caller's effective domain at
// request time unless pinned in configuration.
type RelyingParty struct {
	// ID is the relying party identifier, a registrable domain suffix of the
	// origin.
	ID string

	// Name is the human-readable service name.
	Name string

	// Origins are the web origins permitted to complete ceremonies.
	Origins []string
}

// encodeBase64URL renders binary identifiers the way they travel on the
// wire.
func encodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// decodeBase64URL normalizes a client-supplied identifier to raw bytes,
// accepting both padded and unpadded base64url. Malformed input is an
// ErrCredentialDecode rejection at the boundary.
func decodeBase64URL(s string) ([]byte, error) {
	if s == "" {
		return nil, NewError("decode identifier", ErrCredentialDecode)
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, NewError("decode identifier", ErrCredentialDecode)
	}
	return b, nil
}

// DecodeCredentialID is the boundary normalization for client-supplied
// credential identifiers.
func DecodeCredentialID(s string) ([]byte, error) {
	return decodeBase64URL(s)
}
