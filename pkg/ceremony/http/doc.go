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

// Package http exposes the passkey ceremonies over HTTP/JSON.
//
// The surface is four ceremony endpoints plus authenticated credential
// management:
//
//	POST   /options/registration       issue registration options
//	POST   /registration/complete      enroll the attested credential
//	POST   /options/authentication     issue authentication options
//	POST   /authentication/complete    verify the assertion, establish a session
//	GET    /credentials                list the caller's credentials
//	DELETE /credentials                delete one of the caller's credentials
//
// Ceremonies are keyed by the passkey_session cookie, set on options
// requests. Binary identifiers are base64url in all request and response
// bodies. Completion failures on the authentication path share one generic
// message so a caller cannot probe which check rejected the response.
package http
