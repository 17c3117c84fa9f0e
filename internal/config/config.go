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

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-passkey/pkg/ceremony"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	TLS       TLSConfig       `yaml:"tls"`
	Ceremony  ceremony.Config `yaml:"ceremony"`
	Tokens    TokenConfig     `yaml:"tokens"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Storage   StorageConfig   `yaml:"storage"`
	Users     []UserConfig    `yaml:"users,omitempty"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Request handling timeouts
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TokenConfig controls the post-authentication session token
type TokenConfig struct {
	// Enabled controls whether a signed token is issued on successful
	// authentication. When disabled the response carries an opaque handle.
	Enabled bool `yaml:"enabled"`

	// Secret is the HMAC signing secret. Minimum 32 bytes.
	Secret string `yaml:"secret"`

	// Audience restricts where issued tokens are accepted.
	Audience []string `yaml:"audience,omitempty"`

	// TTL bounds token validity. Defaults to 1 hour.
	TTL time.Duration `yaml:"ttl"`
}

// RateLimitConfig controls rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StorageConfig selects the credential repository backend
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the database file. Required for the sqlite backend.
	Path string `yaml:"path,omitempty"`
}

// UserConfig seeds the in-process user directory. Production deployments
// replace the directory with their own account system; the seed list exists
// for demos and tests.
type UserConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Handle      string `yaml:"handle,omitempty"`
}

// New returns a configuration populated with defaults. The result is valid
// for a development deployment with in-memory storage.
func New() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Ceremony: ceremony.Config{
			RPDisplayName: "go-passkey",
		},
		Tokens: TokenConfig{
			TTL: time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
	}
	cfg.Ceremony.SetDefaults()
	return cfg
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration with environment variable
// overrides applied, for deployments that run without a config file.
func Default() (*Config, error) {
	cfg := New()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("PASSKEY_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portEnv := os.Getenv("PASSKEY_PORT"); portEnv != "" {
		port, err := strconv.Atoi(portEnv)
		if err != nil {
			log.Printf("Warning: invalid PASSKEY_PORT value %q, using default %d: %v",
				portEnv, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid PASSKEY_PORT value %q (out of range 1-65535), using default %d",
				portEnv, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	// Logging
	if level := os.Getenv("PASSKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PASSKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Relying party identity
	if rpID := os.Getenv("PASSKEY_RP_ID"); rpID != "" {
		cfg.Ceremony.RPID = rpID
	}
	if origins := os.Getenv("PASSKEY_RP_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		trimmed := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				trimmed = append(trimmed, part)
			}
		}
		cfg.Ceremony.RPOrigins = trimmed
	}

	// Session tokens
	if secret := os.Getenv("PASSKEY_TOKEN_SECRET"); secret != "" {
		cfg.Tokens.Secret = secret
		cfg.Tokens.Enabled = true
	}

	// Storage
	if backend := os.Getenv("PASSKEY_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := os.Getenv("PASSKEY_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}

	// TLS
	if certFile := os.Getenv("PASSKEY_TLS_CERT_FILE"); certFile != "" {
		cfg.TLS.CertFile = certFile
		cfg.TLS.Enabled = true
	}
	if keyFile := os.Getenv("PASSKEY_TLS_KEY_FILE"); keyFile != "" {
		cfg.TLS.KeyFile = keyFile
		cfg.TLS.Enabled = true
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	c.Ceremony.SetDefaults()
	if err := c.Ceremony.Validate(); err != nil {
		return fmt.Errorf("invalid ceremony configuration: %w", err)
	}

	if c.Tokens.Enabled {
		if len(c.Tokens.Secret) < 32 {
			return fmt.Errorf("token secret must be at least 32 bytes")
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin < 1 {
		return fmt.Errorf("ratelimit requests_per_min must be positive")
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s (must be memory or sqlite)", c.Storage.Backend)
	}

	seen := make(map[string]bool, len(c.Users))
	for i, user := range c.Users {
		if user.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if user.Name == "" {
			return fmt.Errorf("users[%d]: name is required", i)
		}
		if seen[user.ID] {
			return fmt.Errorf("users[%d]: duplicate user id %q", i, user.ID)
		}
		seen[user.ID] = true
	}

	return nil
}

// SeedUsers converts the configured user list into directory entries.
// A missing handle defaults to the user id.
func (c *Config) SeedUsers() []*ceremony.User {
	users := make([]*ceremony.User, 0, len(c.Users))
	for _, u := range c.Users {
		handle := u.Handle
		if handle == "" {
			handle = u.ID
		}
		displayName := u.DisplayName
		if displayName == "" {
			displayName = u.Name
		}
		users = append(users, &ceremony.User{
			ID:          u.ID,
			Name:        u.Name,
			DisplayName: displayName,
			Handle:      []byte(handle),
		})
	}
	return users
}
