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

// Package ceremony implements WebAuthn ceremony orchestration and the
// credential lifecycle for a relying party: challenge issuance, ephemeral
// pending-ceremony state, credential matching, and signature-counter
// replay/clone detection.
//
// The package owns the security-critical state machines. Cryptographic
// attestation and assertion verification is delegated to a Verifier, whose
// production implementation wraps github.com/go-webauthn/webauthn. The
// Verifier validates signatures and parses authenticator data; everything
// around it - single-use challenges, state expiry, ownership scoping, and
// counter monotonicity - is enforced here.
//
// A ceremony is two round trips. The caller requests options, which issues a
// challenge and stores pending state keyed by the caller's session. The
// caller then submits the authenticator's signed response, which consumes the
// pending state exactly once and either commits (new credential, or an
// authenticated session with an advanced counter) or rejects.
//
// Storage is pluggable: CredentialRepository, StateStore and UserDirectory
// are interfaces with in-memory implementations in this package and a
// SQLite-backed credential repository in pkg/storage/sqlite.
package ceremony
