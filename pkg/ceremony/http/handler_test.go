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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/ceremony"
)

type handlerFixture struct {
	handler *Handler
	router  chi.Router
	creds   *ceremony.MemoryCredentialRepository
	users   *ceremony.MemoryUserDirectory
	tokens  *ceremony.DefaultTokenGenerator
	rp      virtualwebauthn.RelyingParty
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	cfg := &ceremony.Config{
		RPID:                  "example.com",
		RPDisplayName:         "Example Corp",
		RPOrigins:             []string{"https://example.com"},
		UserVerification:      "preferred",
		AttestationPreference: "none",
	}

	f := &handlerFixture{
		creds: ceremony.NewMemoryCredentialRepository(),
		users: ceremony.NewMemoryUserDirectory(),
		rp: virtualwebauthn.RelyingParty{
			Name:   cfg.RPDisplayName,
			ID:     cfg.RPID,
			Origin: cfg.RPOrigins[0],
		},
	}
	f.users.Add(&ceremony.User{ID: "alice", Name: "alice@example.com", DisplayName: "Alice", Handle: []byte("alice-handle")})

	tokens, err := ceremony.NewDefaultTokenGenerator(&ceremony.TokenGeneratorConfig{
		Secret: bytes.Repeat([]byte{0x42}, 32),
	})
	require.NoError(t, err)
	f.tokens = tokens

	service, err := ceremony.NewService(ceremony.ServiceParams{
		Config:               cfg,
		StateStore:           ceremony.NewMemoryStateStore(),
		CredentialRepository: f.creds,
		UserDirectory:        f.users,
		Verifier:             ceremony.NewWebAuthnVerifier(cfg),
		TokenGenerator:       tokens,
	})
	require.NoError(t, err)

	f.handler = NewHandler(service).WithTokenVerifier(tokens)
	router := chi.NewRouter()
	router.Route("/api/v1/passkey", func(r chi.Router) {
		Mount(r, f.handler)
	})
	f.router = router
	return f
}

func (f *handlerFixture) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookieName {
			return cookie
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestRegistrationOptions(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/passkey/options/registration",
		`{"user_id":"alice","label":"yubikey"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var options protocol.CredentialCreation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &options))
	assert.Equal(t, "example.com", options.Response.RelyingParty.ID)
	assert.NotEmpty(t, options.Response.Challenge)

	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)
}

func TestRegistrationOptions_BadRequests(t *testing.T) {
	f := newHandlerFixture(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "invalid JSON",
			body:     "{not json",
			wantCode: http.StatusBadRequest,
			wantErr:  ErrorCodeInvalidRequest,
		},
		{
			name:     "missing user_id",
			body:     `{"label":"yubikey"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  ErrorCodeInvalidRequest,
		},
		{
			name:     "unknown user",
			body:     `{"user_id":"nobody"}`,
			wantCode: http.StatusNotFound,
			wantErr:  ErrorCodeUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/passkey/options/registration", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec).Error)
		})
	}
}

func TestAuthenticationOptions(t *testing.T) {
	f := newHandlerFixture(t)

	t.Run("no credentials", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/passkey/options/authentication", `{"user_id":"alice"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, ErrorCodeNoCredentials, decodeError(t, rec).Error)
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/passkey/options/authentication", `{"user_id":"nobody"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("empty body selects discoverable flow", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/passkey/options/authentication", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var options protocol.CredentialAssertion
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &options))
		assert.Empty(t, options.Response.AllowedCredentials)
		sessionCookie(t, rec)
	})
}

func TestCompleteRegistration_BadRequests(t *testing.T) {
	f := newHandlerFixture(t)

	t.Run("no session cookie", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/passkey/registration/complete", "{}")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, ErrorCodeNoPendingCeremony, decodeError(t, rec).Error)
	})

	t.Run("unparseable attestation", func(t *testing.T) {
		cookie := &http.Cookie{Name: SessionCookieName, Value: "some-session"}
		rec := f.do(t, http.MethodPost, "/api/v1/passkey/registration/complete", "{not json", cookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, ErrorCodeInvalidRequest, decodeError(t, rec).Error)
	})
}

func TestCompleteAuthentication_BadRequests(t *testing.T) {
	f := newHandlerFixture(t)

	t.Run("no session cookie", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/passkey/authentication/complete", "{}")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, ErrorCodeAuthenticationFailed, decodeError(t, rec).Error)
	})

	t.Run("unparseable assertion", func(t *testing.T) {
		cookie := &http.Cookie{Name: SessionCookieName, Value: "some-session"}
		rec := f.do(t, http.MethodPost, "/api/v1/passkey/authentication/complete", "{not json", cookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		// The why is never disclosed on the authentication path.
		assert.Equal(t, ErrorCodeAuthenticationFailed, decodeError(t, rec).Error)
	})
}

func TestCredentials_Unauthorized(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/passkey/credentials", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ErrorCodeUnauthorized, decodeError(t, rec).Error)

	rec = f.do(t, http.MethodDelete, "/api/v1/passkey/credentials?credentialId=AQID", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/passkey/credentials", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeleteCredential_InvalidID(t *testing.T) {
	f := newHandlerFixture(t)

	token, err := f.tokens.GenerateToken(t.Context(), &ceremony.User{ID: "alice"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/passkey/credentials?credentialId=%21%21", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrorCodeInvalidRequest, decodeError(t, rec).Error)
}

// TestEndToEnd drives the full registration, authentication, and credential
// management surface over a live HTTP server with a virtual authenticator.
func TestEndToEnd(t *testing.T) {
	f := newHandlerFixture(t)

	server := httptest.NewServer(f.router)
	defer server.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	post := func(path, body string) *http.Response {
		t.Helper()
		resp, err := client.Post(server.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	// Registration options.
	resp := post("/api/v1/passkey/options/registration", `{"user_id":"alice","label":"laptop"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var creation protocol.CredentialCreation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&creation))
	resp.Body.Close()

	// Attest with the virtual authenticator.
	optionsJSON, err := json.Marshal(creation.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)
	attestation := virtualwebauthn.CreateAttestationResponse(f.rp, authenticator, credential, *parsedOptions)

	resp = post("/api/v1/passkey/registration/complete", attestation)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var regResp RegistrationCompleteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&regResp))
	resp.Body.Close()
	assert.Equal(t, "ok", regResp.Status)
	assert.Equal(t, "laptop", regResp.Credential.Label)
	authenticator.AddCredential(credential)

	// Replaying the attestation fails: the ceremony state was consumed.
	resp = post("/api/v1/passkey/registration/complete", attestation)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Authentication options and assertion.
	credential.Counter++
	resp = post("/api/v1/passkey/options/authentication", `{"user_id":"alice"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var assertion protocol.CredentialAssertion
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&assertion))
	resp.Body.Close()
	require.Len(t, assertion.Response.AllowedCredentials, 1)

	assertOptionsJSON, err := json.Marshal(assertion.Response)
	require.NoError(t, err)
	parsedAssertOptions, err := virtualwebauthn.ParseAssertionOptions(string(assertOptionsJSON))
	require.NoError(t, err)
	assertionBody := virtualwebauthn.CreateAssertionResponse(f.rp, authenticator, credential, *parsedAssertOptions)

	resp = post("/api/v1/passkey/authentication/complete", assertionBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var authResp AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&authResp))
	resp.Body.Close()
	assert.Equal(t, "ok", authResp.Status)
	assert.Equal(t, "alice", authResp.UserID)
	require.NotEmpty(t, authResp.Token)

	// Credential management with the minted token.
	authed := func(method, path string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, server.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+authResp.Token)
		resp, err := client.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp = authed(http.MethodGet, "/api/v1/passkey/credentials")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list ListCredentialsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Credentials, 1)
	assert.Equal(t, "laptop", list.Credentials[0].Label)
	assert.Equal(t, uint32(1), list.Credentials[0].SignCount)
	require.NotNil(t, list.Credentials[0].LastUsedAt)

	deletePath := fmt.Sprintf("/api/v1/passkey/credentials?credentialId=%s", list.Credentials[0].ID)
	resp = authed(http.MethodDelete, deletePath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Second delete answers 404, same as a foreign credential would.
	resp = authed(http.MethodDelete, deletePath)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = authed(http.MethodGet, "/api/v1/passkey/credentials")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list = ListCredentialsResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Empty(t, list.Credentials)
}
