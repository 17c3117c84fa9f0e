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

// CheckCounter enforces signature-counter monotonicity.
//
// A genuine authenticator increments its counter on every use, so a
// presented value that does not exceed the stored one means an old signed
// counter is being replayed, most likely by a clone of the credential's
// private key. Authenticators that never implement a counter always report
// zero; once the stored value is zero the check is skipped entirely.
//
// Returns nil to accept, or ErrCloneSuspected. On ErrCloneSuspected the
// caller must not update the stored counter and must surface the event as a
// security warning distinct from ordinary verification failure.
func CheckCounter(stored, presented uint32) error {
	if stored == 0 {
		return nil
	}
	if presented <= stored {
		return NewError("check counter", ErrCloneSuspected)
	}
	return nil
}
