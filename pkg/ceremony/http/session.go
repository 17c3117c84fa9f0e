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
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// sessionKey returns the caller's ceremony session key. Options requests
// mint a fresh key and set the cookie when none is present; completion
// requests never mint, because a missing cookie means there is no pending
// ceremony to finish.
func sessionKey(w http.ResponseWriter, r *http.Request, create bool) (string, bool) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	if !create {
		return "", false
	}

	key := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    key,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return key, true
}

// setAuthCookie stores the post-authentication token alongside the response
// body so browser clients get it without scripting.
func setAuthCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

// authToken extracts the caller's token from the Authorization header or the
// auth cookie.
func authToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return token
		}
	}
	if cookie, err := r.Cookie(AuthCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// effectiveDomain resolves the domain the relying party identity binds to,
// honoring reverse proxies.
func effectiveDomain(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if domain, _, err := net.SplitHostPort(host); err == nil {
		return domain
	}
	return host
}
