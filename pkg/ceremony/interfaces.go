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
	"context"

	"github.com/go-webauthn/webauthn/protocol"
)

// StateStore holds ephemeral pending-ceremony state keyed by the caller's
// session and the ceremony kind. Implementations must honor single
// consumption and treat expired entries as absent even before they are
// physically purged.
type StateStore interface {
	// Put stores state for the (sessionKey, kind) pair, overwriting any
	// existing live entry. Last writer wins: issuing new options makes the
	// prior challenge permanently unusable.
	Put(ctx context.Context, sessionKey string, kind Kind, state *State) error

	// TakeAndClear atomically reads and invalidates the entry. A second call
	// for the same pair returns ErrNoPendingCeremony even before expiry.
	// Absent or expired entries also return ErrNoPendingCeremony; callers
	// treat this as a normal rejection, not a fault.
	TakeAndClear(ctx context.Context, sessionKey string, kind Kind) (*State, error)
}

// CredentialRepository is the durable store of enrolled credentials, keyed
// by credential identifier and scoped by owning user.
type CredentialRepository interface {
	// ListByUser returns all credentials owned by the user. An unknown user
	// yields an empty slice, not an error.
	ListByUser(ctx context.Context, userID string) ([]*Credential, error)

	// FindByID returns the credential with the given identifier or
	// ErrCredentialNotFound.
	FindByID(ctx context.Context, credentialID []byte) (*Credential, error)

	// Insert stores a new credential. Returns ErrDuplicateCredential without
	// mutating the existing row if the identifier already exists.
	Insert(ctx context.Context, cred *Credential) error

	// UpdateCounter advances the signature counter and last-used timestamp as
	// a compare-and-set against the previously observed value. A failed CAS
	// returns ErrCloneSuspected: the window between read and write was raced
	// by another assertion, which is indistinguishable from a replay.
	UpdateCounter(ctx context.Context, credentialID []byte, observed, updated uint32) error

	// DeleteOwned removes the credential only if it is owned by userID.
	// Returns false both when the credential does not exist and when it
	// belongs to someone else; callers must not distinguish the two.
	DeleteOwned(ctx context.Context, credentialID []byte, userID string) (bool, error)
}

// UserDirectory is the external account system this package consults but
// never mutates.
type UserDirectory interface {
	// FindByID returns the user with the given account identifier or
	// ErrUserNotFound.
	FindByID(ctx context.Context, userID string) (*User, error)

	// FindByHandle returns the user bound to the given WebAuthn user handle
	// or ErrUserNotFound. Used by the discoverable authentication flow.
	FindByHandle(ctx context.Context, handle []byte) (*User, error)
}

// Verifier is the external cryptographic collaborator. It validates
// signatures and parses authenticator data; it does not own challenges,
// pending state, matching, or counter policy.
type Verifier interface {
	// VerifyRegistration validates an attestation response against the
	// pending state's challenge and the relying party identity, returning
	// the parsed credential on success or ErrVerificationFailed.
	VerifyRegistration(rp RelyingParty, state *State, user *User, response *protocol.ParsedCredentialCreationData) (*Credential, error)

	// VerifyAssertion validates an assertion response against the pending
	// state's challenge, the matched credential's public key, and the
	// relying party identity. Returns the counter value presented by the
	// authenticator on success or ErrVerificationFailed. Counter policy is
	// applied by the caller, not here.
	VerifyAssertion(rp RelyingParty, state *State, user *User, cred *Credential, response *protocol.ParsedCredentialAssertionData) (uint32, error)
}

// TokenGenerator mints a proof of authentication after a successful
// assertion. Optional; without one the service returns the encoded user
// handle.
type TokenGenerator interface {
	// GenerateToken creates a token for the authenticated user.
	GenerateToken(ctx context.Context, user *User) (string, error)
}
