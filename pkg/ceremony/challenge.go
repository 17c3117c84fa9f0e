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
	"crypto/rand"
)

// ChallengeLength is the fixed challenge size in bytes. 256 bits keeps the
// collision probability negligible across any realistic number of
// ceremonies.
const ChallengeLength = 32

// Challenge is an opaque single-use random value an authenticator must sign.
// Its lifetime is bounded by the ceremony state that carries it.
type Challenge []byte

// NewChallenge returns a fresh challenge from the secure random source.
// Failure means the entropy source is unavailable, which is fatal at the
// process level rather than a ceremony rejection.
func NewChallenge() (Challenge, error) {
	b := make([]byte, ChallengeLength)
	if _, err := rand.Read(b); err != nil {
		return nil, NewError("generate challenge", ErrEntropyFailure)
	}
	return Challenge(b), nil
}

// String renders the challenge in its wire encoding.
func (c Challenge) String() string {
	return encodeBase64URL(c)
}
