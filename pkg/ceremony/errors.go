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
	"errors"
	"fmt"
)

// Sentinel errors for ceremony operations. All of these except
// ErrRepositoryIntegrity and ErrEntropyFailure are expected, user-facing
// rejections; callers map them to generic responses without disclosing which
// check failed on the authentication path.
var (
	// ErrUserNotFound is returned when the target user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoCredentials is returned when authentication options are requested
	// for a user with no enrolled credentials.
	ErrNoCredentials = errors.New("user has no registered credentials")

	// ErrNoPendingCeremony is returned when no live ceremony state exists for
	// the caller's session, either because none was issued, it was already
	// consumed, or it expired.
	ErrNoPendingCeremony = errors.New("no pending ceremony")

	// ErrCredentialDecode is returned when a client-supplied credential
	// identifier is malformed. Decoding happens at the system boundary,
	// before matching.
	ErrCredentialDecode = errors.New("malformed credential identifier")

	// ErrCredentialNotFound is returned when a presented credential
	// identifier matches nothing in the candidate set.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrDuplicateCredential is returned when registering a credential whose
	// identifier already exists.
	ErrDuplicateCredential = errors.New("credential already registered")

	// ErrVerificationFailed is returned when the Verifier rejects an
	// attestation or assertion response.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrCloneSuspected is returned when the signature counter did not
	// advance, indicating a possibly cloned authenticator. The stored counter
	// is never updated and the session is never authenticated on this path.
	ErrCloneSuspected = errors.New("cloned authenticator suspected")

	// ErrNotAuthorized is returned when a credential exists but is owned by a
	// different user. Response surfaces must not distinguish it from
	// ErrCredentialNotFound.
	ErrNotAuthorized = errors.New("credential not found or not owned")

	// ErrRepositoryIntegrity indicates the credential store violated its
	// uniqueness invariant (multiple rows match one identifier). This is a
	// fault, not a rejection.
	ErrRepositoryIntegrity = errors.New("credential repository integrity violation")

	// ErrEntropyFailure indicates the secure random source is exhausted or
	// unavailable. Fatal at the process level, never a ceremony rejection.
	ErrEntropyFailure = errors.New("entropy source failure")

	// ErrNotConfigured is returned when the service is used before being
	// constructed through NewService.
	ErrNotConfigured = errors.New("ceremony service not configured")
)

// CeremonyError wraps an error with the operation that produced it.
type CeremonyError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *CeremonyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CeremonyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *CeremonyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new CeremonyError with the given operation and error.
func NewError(op string, err error) error {
	return &CeremonyError{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsRejection returns true if the error is an expected, user-facing
// rejection rather than a storage or verifier fault.
func IsRejection(err error) bool {
	for _, sentinel := range []error{
		ErrUserNotFound,
		ErrNoCredentials,
		ErrNoPendingCeremony,
		ErrCredentialDecode,
		ErrCredentialNotFound,
		ErrDuplicateCredential,
		ErrVerificationFailed,
		ErrCloneSuspected,
		ErrNotAuthorized,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsCloneSuspected returns true if the error indicates a counter regression.
func IsCloneSuspected(err error) bool {
	return errors.Is(err, ErrCloneSuspected)
}

// IsNoPendingCeremony returns true if the error indicates absent or expired
// ceremony state.
func IsNoPendingCeremony(err error) bool {
	return errors.Is(err, ErrNoPendingCeremony)
}

// IsUserNotFound returns true if the error indicates a user was not found.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsVerificationFailed returns true if the error indicates the Verifier
// rejected the response.
func IsVerificationFailed(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}
