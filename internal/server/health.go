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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// healthResponse is the body of the health probe endpoints.
type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthHandler handles GET /health and /health/live. Liveness only fails if
// the process is unrecoverable, so this always reports healthy.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, healthResponse{Status: "healthy"})
}

// readinessHandler handles GET /health/ready. Readiness fails when the
// credential repository is unreachable.
func (s *Server) readinessHandler(countSource func(context.Context) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := countSource(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err.Error())
			writeHealth(w, http.StatusServiceUnavailable, healthResponse{
				Status:  "unhealthy",
				Message: "credential storage unavailable",
			})
			return
		}

		writeHealth(w, http.StatusOK, healthResponse{Status: "healthy"})
	}
}

func writeHealth(w http.ResponseWriter, status int, resp healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
