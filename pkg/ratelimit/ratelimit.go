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

// Package ratelimit provides per-client token bucket rate limiting for the
// passkey HTTP endpoints. Challenge issuance is the primary target: an
// unauthenticated client must not be able to mint ceremony state faster than
// the configured rate.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// client tracks the token bucket for one remote address along with the time
// it was last consulted, so idle entries can be swept.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces a sustained request rate per client identifier, backed by
// golang.org/x/time/rate token buckets. A background sweeper evicts clients
// that have gone idle so the map does not grow without bound.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	enabled bool
	maxIdle time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool

	// RequestsPerMinute sets the sustained rate limit.
	RequestsPerMinute int

	// Burst allows short bursts above the sustained rate.
	// If not set, defaults to RequestsPerMinute.
	Burst int

	// SweepInterval controls how often idle clients are evicted.
	// Defaults to 10 minutes.
	SweepInterval time.Duration

	// MaxIdle is how long a client can be idle before eviction.
	// Defaults to 30 minutes.
	MaxIdle time.Duration
}

// New creates a rate limiter. A nil config yields a disabled limiter that
// admits everything.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{}
	}

	burst := config.Burst
	if burst == 0 {
		burst = config.RequestsPerMinute
	}
	sweepInterval := config.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = 10 * time.Minute
	}
	maxIdle := config.MaxIdle
	if maxIdle == 0 {
		maxIdle = 30 * time.Minute
	}

	l := &Limiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(float64(config.RequestsPerMinute) / 60.0),
		burst:   burst,
		enabled: config.Enabled,
		maxIdle: maxIdle,
		stop:    make(chan struct{}),
	}

	if l.enabled {
		go l.sweepLoop(sweepInterval)
	}
	return l
}

// take returns the bucket for clientID, creating it on first sight, and
// refreshes the idle timestamp.
func (l *Limiter) take(clientID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[clientID]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[clientID] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

// Allow reports whether a request from clientID fits within the rate limit.
func (l *Limiter) Allow(clientID string) bool {
	if !l.enabled {
		return true
	}
	return l.take(clientID).Allow()
}

// Wait blocks until the bucket for clientID has a token available, or the
// context is done.
func (l *Limiter) Wait(ctx context.Context, clientID string) error {
	if !l.enabled {
		return nil
	}
	return l.take(clientID).Wait(ctx)
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep evicts clients idle longer than maxIdle.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.maxIdle)
	for id, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, id)
		}
	}
}

// Stop terminates the sweeper. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// ActiveClients returns the number of clients currently tracked.
func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// IsEnabled returns whether rate limiting is enabled.
func (l *Limiter) IsEnabled() bool {
	return l.enabled
}

// Middleware returns an HTTP middleware that rejects over-limit requests
// with 429. The client's IP address is the rate limit key.
func Middleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limiter.limit)))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","message":"Too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds estimates when the next token becomes available.
func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 {
		return 60
	}
	secs := int(1 / float64(limit))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// clientIP extracts the client IP from the request, honoring proxy headers.
// X-Forwarded-For may carry a chain; the first entry is the originating
// client.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
