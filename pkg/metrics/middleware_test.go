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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddleware(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()
	ActiveConnections.Reset()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wrapped := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	count := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "200"))
	if count != 1 {
		t.Errorf("Expected 1 recorded request, got %v", count)
	}

	// Connections should be back to zero after the request completes
	active := testutil.ToFloat64(ActiveConnections.WithLabelValues(ProtocolHTTP))
	if active != 0 {
		t.Errorf("Expected 0 active connections, got %v", active)
	}
}

func TestHTTPMiddlewareStatusCapture(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	})

	wrapped := HTTPMiddleware(handler)

	req := httptest.NewRequest("POST", "/test", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	count := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "400"))
	if count != 1 {
		t.Errorf("Expected 1 recorded 400 request, got %v", count)
	}
}

func TestHTTPMiddlewareImplicitStatus(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()

	// Handler writes a body without calling WriteHeader
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit")) //nolint:errcheck
	})

	wrapped := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	count := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "200"))
	if count != 1 {
		t.Errorf("Expected implicit 200 to be recorded, got %v", count)
	}
}

func TestHTTPMiddlewareDisabled(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()

	Disable()
	defer Enable()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected handler to run while metrics disabled, got %d", rec.Code)
	}

	count := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "200"))
	if count != 0 {
		t.Errorf("Expected no requests recorded while disabled, got %v", count)
	}
}
