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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-passkey/pkg/ceremony"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
)

// TokenVerifier checks post-authentication tokens on the credential
// management endpoints and yields the account identifier they were minted
// for.
type TokenVerifier interface {
	Subject(token string) (string, error)
}

// Handler provides HTTP handlers for passkey ceremonies. The handlers can be
// mounted on any router; Mount wires them onto chi.
type Handler struct {
	service *ceremony.Service
	tokens  TokenVerifier
	logger  *logging.Logger
}

// NewHandler creates a passkey HTTP handler.
func NewHandler(service *ceremony.Service) *Handler {
	return &Handler{
		service: service,
		logger:  logging.DefaultLogger(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *logging.Logger) *Handler {
	h.logger = logger
	return h
}

// WithTokenVerifier enables the authenticated credential management
// endpoints. Without one they answer 401.
func (h *Handler) WithTokenVerifier(tokens TokenVerifier) *Handler {
	h.tokens = tokens
	return h
}

// RegistrationOptions handles POST /options/registration
//
// Request body:
//
//	{
//	    "user_id": "alice",
//	    "label": "yubikey 5" // optional
//	}
//
// Response: WebAuthn PublicKeyCredentialCreationOptions. The ceremony
// session key travels in the passkey_session cookie.
func (h *Handler) RegistrationOptions(w http.ResponseWriter, r *http.Request) {
	var req BeginRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user_id is required")
		return
	}

	session, _ := sessionKey(w, r, true)
	options, err := h.service.BeginRegistration(r.Context(), session, effectiveDomain(r), req.UserID, req.Label)
	if err != nil {
		h.handleOptionsError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, options)
}

// CompleteRegistration handles POST /registration/complete
//
// Request body: attestation response from the authenticator.
// Response: status plus the stored credential's summary.
func (h *Handler) CompleteRegistration(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionKey(w, r, false)
	if !ok {
		h.writeError(w, http.StatusBadRequest, ErrorCodeNoPendingCeremony, "no pending ceremony")
		return
	}

	response, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid attestation response")
		return
	}

	cred, err := h.service.FinishRegistration(r.Context(), session, effectiveDomain(r), response)
	if err != nil {
		h.handleRegistrationError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, RegistrationCompleteResponse{
		Status:     "ok",
		Credential: summarize(cred),
	})
}

// AuthenticationOptions handles POST /options/authentication
//
// Request body:
//
//	{
//	    "user_id": "alice" // optional; empty selects the discoverable flow
//	}
//
// Response: WebAuthn PublicKeyCredentialRequestOptions.
func (h *Handler) AuthenticationOptions(w http.ResponseWriter, r *http.Request) {
	var req BeginAuthenticationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An empty body selects the discoverable flow.
		req = BeginAuthenticationRequest{}
	}

	session, _ := sessionKey(w, r, true)
	options, err := h.service.BeginAuthentication(r.Context(), session, effectiveDomain(r), req.UserID)
	if err != nil {
		h.handleOptionsError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, options)
}

// CompleteAuthentication handles POST /authentication/complete
//
// Request body: assertion response from the authenticator.
// Response: status, token, and user ID; the token is also set as a cookie.
// All rejection causes collapse into one generic message so callers cannot
// probe which check failed; a suspected clone keeps the same status but a
// distinct code.
func (h *Handler) CompleteAuthentication(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionKey(w, r, false)
	if !ok {
		h.writeError(w, http.StatusBadRequest, ErrorCodeAuthenticationFailed, "authentication failed")
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeAuthenticationFailed, "authentication failed")
		return
	}

	token, user, err := h.service.FinishAuthentication(r.Context(), session, effectiveDomain(r), response)
	if err != nil {
		h.handleAuthenticationError(w, err)
		return
	}

	setAuthCookie(w, r, token)
	h.writeJSON(w, http.StatusOK, AuthResponse{
		Status: "ok",
		Token:  token,
		UserID: user.ID,
	})
}

// ListCredentials handles GET /credentials (authenticated).
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	creds, err := h.service.ListCredentials(r.Context(), userID)
	if err != nil {
		h.handleOptionsError(w, err)
		return
	}

	summaries := make([]CredentialSummary, len(creds))
	for i, cred := range creds {
		summaries[i] = summarize(cred)
	}
	h.writeJSON(w, http.StatusOK, ListCredentialsResponse{Credentials: summaries})
}

// DeleteCredential handles DELETE /credentials?credentialId=... (authenticated).
// Missing and foreign credentials answer the same 404.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	credentialID, err := ceremony.DecodeCredentialID(r.URL.Query().Get("credentialId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid credential identifier")
		return
	}

	if err := h.service.DeleteCredential(r.Context(), userID, credentialID); err != nil {
		if errors.Is(err, ceremony.ErrCredentialNotFound) || errors.Is(err, ceremony.ErrNotAuthorized) {
			h.writeError(w, http.StatusNotFound, ErrorCodeNotFound, "credential not found")
			return
		}
		h.handleOptionsError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// authenticate resolves the calling account from the request token. Writes
// the 401 itself when the caller is not authenticated.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.tokens == nil {
		h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return "", false
	}
	token := authToken(r)
	if token == "" {
		h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return "", false
	}
	userID, err := h.tokens.Subject(token)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

// handleOptionsError maps errors from the options and management endpoints,
// where disclosing the cause is safe.
func (h *Handler) handleOptionsError(w http.ResponseWriter, err error) {
	switch {
	case ceremony.IsUserNotFound(err):
		h.writeError(w, http.StatusNotFound, ErrorCodeUserNotFound, "user not found")
	case errors.Is(err, ceremony.ErrNoCredentials):
		h.writeError(w, http.StatusBadRequest, ErrorCodeNoCredentials, "user has no registered credentials")
	default:
		h.internalError(w, err)
	}
}

// handleRegistrationError maps registration completion errors.
func (h *Handler) handleRegistrationError(w http.ResponseWriter, err error) {
	switch {
	case ceremony.IsNoPendingCeremony(err):
		h.writeError(w, http.StatusBadRequest, ErrorCodeNoPendingCeremony, "no pending ceremony")
	case errors.Is(err, ceremony.ErrDuplicateCredential):
		h.writeError(w, http.StatusBadRequest, ErrorCodeDuplicateCredential, "credential already registered")
	case ceremony.IsUserNotFound(err):
		h.writeError(w, http.StatusNotFound, ErrorCodeUserNotFound, "user not found")
	case ceremony.IsRejection(err):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "registration failed")
	default:
		h.internalError(w, err)
	}
}

// handleAuthenticationError maps authentication completion errors. Every
// rejection gets the same status and message; only the clone code differs
// because the caller must be told to investigate their authenticator.
func (h *Handler) handleAuthenticationError(w http.ResponseWriter, err error) {
	switch {
	case ceremony.IsCloneSuspected(err):
		h.writeError(w, http.StatusBadRequest, ErrorCodeCloneSuspected, "authentication failed")
	case ceremony.IsRejection(err):
		h.writeError(w, http.StatusBadRequest, ErrorCodeAuthenticationFailed, "authentication failed")
	default:
		h.internalError(w, err)
	}
}

// internalError answers storage and verifier faults without leaking detail.
func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.logger.Errorf("passkey handler: %v", err)
	h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Errorf("failed to encode JSON response: %v", err)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}
