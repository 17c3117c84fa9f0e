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

package http

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-passkey/pkg/ceremony"
)

// SessionCookieName is the cookie carrying the ceremony session key.
const SessionCookieName = "passkey_session"

// AuthCookieName is the cookie carrying the post-authentication token.
const AuthCookieName = "passkey_auth"

// BeginRegistrationRequest is the request body for registration options.
type BeginRegistrationRequest struct {
	// UserID is the account identifier of the registering user (required).
	UserID string `json:"user_id"`

	// Label is an optional friendly name for the new credential.
	Label string `json:"label,omitempty"`
}

// BeginAuthenticationRequest is the request body for authentication options.
type BeginAuthenticationRequest struct {
	// UserID is the account identifier (optional). When empty the options
	// carry no allow list and the authenticator picks a discoverable
	// credential.
	UserID string `json:"user_id,omitempty"`
}

// StatusResponse acknowledges a completed operation.
type StatusResponse struct {
	Status string `json:"status"`
}

// RegistrationCompleteResponse is returned after a successful registration.
type RegistrationCompleteResponse struct {
	Status     string            `json:"status"`
	Credential CredentialSummary `json:"credential"`
}

// AuthResponse is returned after a successful authentication.
type AuthResponse struct {
	Status string `json:"status"`

	// Token proves the authentication to subsequent requests.
	Token string `json:"token"`

	// UserID is the authenticated account identifier.
	UserID string `json:"user_id"`
}

// CredentialSummary is the client-facing view of a stored credential.
// Binary identifiers travel base64url-encoded.
type CredentialSummary struct {
	ID         string     `json:"id"`
	Label      string     `json:"label,omitempty"`
	Type       string     `json:"type"`
	AAGUID     string     `json:"aaguid,omitempty"`
	SignCount  uint32     `json:"sign_count"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// ListCredentialsResponse is the response for the credential listing.
type ListCredentialsResponse struct {
	Credentials []CredentialSummary `json:"credentials"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeUserNotFound         = "user_not_found"
	ErrorCodeNoCredentials        = "no_credentials"
	ErrorCodeNoPendingCeremony    = "no_pending_ceremony"
	ErrorCodeDuplicateCredential  = "duplicate_credential"
	ErrorCodeAuthenticationFailed = "authentication_failed"
	ErrorCodeCloneSuspected       = "clone_suspected"
	ErrorCodeNotFound             = "not_found"
	ErrorCodeUnauthorized         = "unauthorized"
	ErrorCodeInternalError        = "internal_error"
)

// summarize converts a stored credential to its client-facing view.
func summarize(cred *ceremony.Credential) CredentialSummary {
	summary := CredentialSummary{
		ID:        base64.RawURLEncoding.EncodeToString(cred.ID),
		Label:     cred.Label,
		Type:      cred.Type,
		SignCount: cred.SignCount,
		CreatedAt: cred.CreatedAt,
	}
	if !cred.LastUsedAt.IsZero() {
		used := cred.LastUsedAt
		summary.LastUsedAt = &used
	}
	if id, err := uuid.FromBytes(cred.AAGUID); err == nil {
		summary.AAGUID = id.String()
	}
	return summary
}
