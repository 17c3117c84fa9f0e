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
	"crypto/subtle"
)

// MatchCredential resolves a client-supplied credential identifier against a
// candidate set and returns the unique credential whose identifier is
// byte-for-byte equal.
//
// Comparison is constant time in the identifier content. Credential IDs are
// not secrets, but a data-dependent comparison would let a remote caller
// probe the candidate set byte by byte; constant time costs nothing here.
//
// Zero matches returns ErrCredentialNotFound. More than one match means the
// repository's uniqueness invariant is broken and returns
// ErrRepositoryIntegrity, which callers must treat as a fault rather than a
// rejection.
func MatchCredential(rawID []byte, candidates []*Credential) (*Credential, error) {
	if len(rawID) == 0 {
		return nil, NewError("match credential", ErrCredentialDecode)
	}

	var matched *Credential
	matches := 0
	for _, cand := range candidates {
		if len(cand.ID) != len(rawID) {
			continue
		}
		if subtle.ConstantTimeCompare(cand.ID, rawID) == 1 {
			matched = cand
			matches++
		}
	}

	switch matches {
	case 0:
		return nil, NewError("match credential", ErrCredentialNotFound)
	case 1:
		return matched, nil
	default:
		return nil, NewError("match credential", ErrRepositoryIntegrity)
	}
}
