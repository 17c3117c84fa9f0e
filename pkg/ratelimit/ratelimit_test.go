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

package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAllow_WithinBurst(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             5,
	})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("request beyond burst should be denied")
	}
}

func TestAllow_ClientsAreIndependent(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             1,
	})
	defer limiter.Stop()

	if !limiter.Allow("10.0.0.1") {
		t.Fatal("first client should be allowed")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("first client should be exhausted")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatal("second client has its own bucket")
	}
	if got := limiter.ActiveClients(); got != 2 {
		t.Fatalf("ActiveClients = %d, want 2", got)
	}
}

func TestAllow_Disabled(t *testing.T) {
	limiter := New(&Config{Enabled: false, RequestsPerMinute: 1, Burst: 1})
	defer limiter.Stop()

	for i := 0; i < 100; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatal("disabled limiter must admit everything")
		}
	}
	if limiter.IsEnabled() {
		t.Fatal("IsEnabled should report false")
	}
}

func TestNew_NilConfig(t *testing.T) {
	limiter := New(nil)
	defer limiter.Stop()

	if limiter.IsEnabled() {
		t.Fatal("nil config should produce a disabled limiter")
	}
	if !limiter.Allow("anyone") {
		t.Fatal("disabled limiter must allow")
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             1,
	})
	defer limiter.Stop()

	// Drain the only token so Wait has to block.
	if !limiter.Allow("10.0.0.1") {
		t.Fatal("initial token should be available")
	}

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "10.0.0.1"); err == nil {
		t.Fatal("Wait should fail when the context expires before a token frees up")
	}
}

func TestWait_Disabled(t *testing.T) {
	limiter := New(&Config{Enabled: false})
	defer limiter.Stop()

	if err := limiter.Wait(context.Background(), "10.0.0.1"); err != nil {
		t.Fatalf("Wait on a disabled limiter returned %v", err)
	}
}

func TestSweep_EvictsIdleClients(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             1,
		MaxIdle:           time.Nanosecond,
	})
	defer limiter.Stop()

	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.2")
	time.Sleep(time.Millisecond)
	limiter.sweep()

	if got := limiter.ActiveClients(); got != 0 {
		t.Fatalf("ActiveClients after sweep = %d, want 0", got)
	}
}

func TestStop_Idempotent(t *testing.T) {
	limiter := New(&Config{Enabled: true, RequestsPerMinute: 60})
	limiter.Stop()
	limiter.Stop()
}

func TestMiddleware_RejectsWith429(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             1,
	})
	defer limiter.Stop()

	handler := Middleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/passkey/options/authentication", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 response should carry Retry-After")
	}
	if !strings.Contains(rec.Body.String(), "rate_limited") {
		t.Fatalf("unexpected 429 body: %s", rec.Body.String())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "192.168.1.1:9000",
			want:       "192.168.1.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.168.1.1",
			want:       "192.168.1.1",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7"},
			want:       "198.51.100.7",
		},
		{
			name:       "x-forwarded-for chain uses first hop",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.2"},
			want:       "198.51.100.7",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "198.51.100.9"},
			want:       "198.51.100.9",
		},
		{
			name:       "x-forwarded-for beats x-real-ip",
			remoteAddr: "10.0.0.1:1234",
			headers: map[string]string{
				"X-Forwarded-For": "198.51.100.7",
				"X-Real-IP":       "198.51.100.9",
			},
			want: "198.51.100.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Fatalf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	// 60 req/min is one token per second.
	if got := retryAfterSeconds(1); got != 1 {
		t.Fatalf("retryAfterSeconds(1) = %d, want 1", got)
	}
	// 6 req/min is one token every ten seconds.
	if got := retryAfterSeconds(0.1); got != 10 {
		t.Fatalf("retryAfterSeconds(0.1) = %d, want 10", got)
	}
	if got := retryAfterSeconds(0); got != 60 {
		t.Fatalf("retryAfterSeconds(0) = %d, want 60", got)
	}
}
