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
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mount mounts the passkey routes on a chi router.
//
// Example:
//
//	handler := ceremonyhttp.NewHandler(svc).WithTokenVerifier(tokens)
//	r.Route("/api/v1/passkey", func(r chi.Router) {
//	    ceremonyhttp.Mount(r, handler)
//	})
func Mount(r chi.Router, h *Handler) {
	r.Post("/options/registration", h.RegistrationOptions)
	r.Post("/registration/complete", h.CompleteRegistration)
	r.Post("/options/authentication", h.AuthenticationOptions)
	r.Post("/authentication/complete", h.CompleteAuthentication)
	r.Get("/credentials", h.ListCredentials)
	r.Delete("/credentials", h.DeleteCredential)
}

// RouteEntry represents a single route with its method, path, and handler.
type RouteEntry struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Routes returns the route table for manual mounting on other routers.
func (h *Handler) Routes() []RouteEntry {
	return []RouteEntry{
		{Method: http.MethodPost, Path: "/options/registration", Handler: h.RegistrationOptions},
		{Method: http.MethodPost, Path: "/registration/complete", Handler: h.CompleteRegistration},
		{Method: http.MethodPost, Path: "/options/authentication", Handler: h.AuthenticationOptions},
		{Method: http.MethodPost, Path: "/authentication/complete", Handler: h.CompleteAuthentication},
		{Method: http.MethodGet, Path: "/credentials", Handler: h.ListCredentials},
		{Method: http.MethodDelete, Path: "/credentials", Handler: h.DeleteCredential},
	}
}
