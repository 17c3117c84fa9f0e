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

// Package server assembles the passkey HTTP server: ceremony engine,
// credential storage, middleware chain, health and metrics endpoints.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/pkg/ceremony"
	ceremonyhttp "github.com/jeremyhahn/go-passkey/pkg/ceremony/http"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
	"github.com/jeremyhahn/go-passkey/pkg/storage/sqlite"
)

// Server is the passkey HTTP server.
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	server    *http.Server
	service   *ceremony.Service
	states    *ceremony.MemoryStateStore
	limiter   *ratelimit.Limiter
	collector *metrics.ResourceCollector
	repo      ceremony.CredentialRepository
	credCount func(context.Context) (int, error)
	closers   []func() error

	cleanupStop chan struct{}
}

// New builds a Server from the loaded configuration. The credential
// repository backend, ceremony engine, token generator, and middleware chain
// are all wired here; Start only binds the listener.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	s := &Server{
		config:      cfg,
		logger:      logger,
		cleanupStop: make(chan struct{}),
	}

	// Credential repository backend
	var (
		repo        ceremony.CredentialRepository
		countSource func(context.Context) (int, error)
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open credential database: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		repo = db
		countSource = db.Count
		logger.Info("using sqlite credential storage", "path", cfg.Storage.Path)
	default:
		mem := ceremony.NewMemoryCredentialRepository()
		repo = mem
		countSource = func(context.Context) (int, error) { return mem.Count(), nil }
		logger.Info("using in-memory credential storage")
	}
	s.repo = repo
	s.credCount = countSource

	// User directory seeded from config
	users := ceremony.NewMemoryUserDirectory()
	for _, user := range cfg.SeedUsers() {
		users.Add(user)
	}

	// Ceremony state store
	states := ceremony.NewMemoryStateStore()
	s.states = states

	// Post-authentication session tokens
	var (
		tokens   ceremony.TokenGenerator
		verifier ceremonyhttp.TokenVerifier
	)
	if cfg.Tokens.Enabled {
		generator, err := ceremony.NewDefaultTokenGenerator(&ceremony.TokenGeneratorConfig{
			Secret:    []byte(cfg.Tokens.Secret),
			Audience:  cfg.Tokens.Audience,
			ExpiresIn: cfg.Tokens.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create token generator: %w", err)
		}
		tokens = generator
		verifier = generator
	}

	service, err := ceremony.NewService(ceremony.ServiceParams{
		Config:               &cfg.Ceremony,
		StateStore:           states,
		CredentialRepository: repo,
		UserDirectory:        users,
		Verifier:             ceremony.NewWebAuthnVerifier(&cfg.Ceremony),
		TokenGenerator:       tokens,
		Logger:               logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ceremony service: %w", err)
	}
	s.service = service
	logger.Info("relying party configured",
		"display_name", cfg.Ceremony.RPDisplayName,
		"id", cfg.Ceremony.RPID,
		"origins", effectiveOrigins(cfg.Ceremony.RPOrigins))

	// Rate limiting: challenge issuance must not outpace the configured rate
	s.limiter = ratelimit.New(&ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
		Burst:             cfg.RateLimit.Burst,
	})

	handler := ceremonyhttp.NewHandler(service).WithLogger(logger)
	if verifier != nil {
		handler = handler.WithTokenVerifier(verifier)
	}

	router := s.setupRouter(handler, countSource)

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(handler *ceremonyhttp.Handler, countSource func(context.Context) (int, error)) *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.recoveryMiddleware())
	r.Use(s.loggingMiddleware())
	if s.config.Metrics.Enabled {
		r.Use(metrics.HTTPMiddleware)
	}
	r.Use(corsMiddleware)

	// Health probes (no rate limiting, no auth)
	r.Get("/health", s.healthHandler)
	r.Head("/health", s.healthHandler)
	r.Get("/health/live", s.healthHandler)
	r.Get("/health/ready", s.readinessHandler(countSource))

	if s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, promhttp.Handler())
	}

	r.Route("/api/v1/passkey", func(r chi.Router) {
		if s.limiter.IsEnabled() {
			r.Use(ratelimit.Middleware(s.limiter))
		}
		ceremonyhttp.Mount(r, handler)
	})

	return r
}

// Start begins serving requests. It blocks until the listener fails or the
// server is stopped. Expired ceremony state is swept in the background while
// the server runs.
func (s *Server) Start() error {
	go s.stateSweeper()

	if s.config.Metrics.Enabled {
		collectorCtx := context.Background()
		s.collector = metrics.NewResourceCollector(collectorCtx, 30*time.Second).
			WithCeremonySource(func(context.Context) (int, error) { return s.states.Count(), nil }).
			WithCredentialSource(s.credCount)
		go s.collector.Start()
	}

	tlsConfig, err := s.config.TLS.LoadTLSConfig()
	if err != nil {
		return err
	}

	if tlsConfig != nil {
		s.server.TLSConfig = tlsConfig
		s.logger.Info("starting HTTPS server", "addr", s.server.Addr)
		if err := s.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
		return nil
	}

	s.logger.Info("starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server and releases storage resources.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")

	close(s.cleanupStop)
	if s.collector != nil {
		s.collector.Stop()
	}
	s.limiter.Stop()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error(err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	for _, closer := range s.closers {
		s.logger.MaybeError(closer())
	}

	s.logger.Info("server stopped")
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Handler returns the assembled HTTP handler. Used by tests to drive the
// full middleware chain without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// stateSweeper periodically drops expired ceremony state so abandoned
// ceremonies do not accumulate.
func (s *Server) stateSweeper() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.states.Cleanup(); removed > 0 {
				s.logger.Debugf("removed %d expired ceremony states", removed)
			}
		case <-s.cleanupStop:
			return
		}
	}
}

// effectiveOrigins summarizes the allowed origins for logging.
func effectiveOrigins(origins []string) string {
	if len(origins) == 0 {
		return "(derived from request domain)"
	}
	return strings.Join(origins, ",")
}
