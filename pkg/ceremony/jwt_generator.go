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

package ceremony

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenGenerator mints HMAC-signed JWTs after a successful
// authentication ceremony.
type DefaultTokenGenerator struct {
	// secret is the HMAC signing key
	secret []byte
	// issuer is the JWT issuer claim
	issuer string
	// audience is the JWT audience claim
	audience []string
	// expiresIn is how long tokens are valid
	expiresIn time.Duration
}

// TokenGeneratorConfig contains configuration for the token generator.
type TokenGeneratorConfig struct {
	// Secret is the HMAC signing key (required, at least 32 bytes)
	Secret []byte
	// Issuer is the JWT issuer claim (default: "go-passkey")
	Issuer string
	// Audience is the JWT audience claim (default: ["go-passkey"])
	Audience []string
	// ExpiresIn is how long tokens are valid (default: 1 hour)
	ExpiresIn time.Duration
}

// NewDefaultTokenGenerator creates a token generator with the given
// configuration.
func NewDefaultTokenGenerator(config *TokenGeneratorConfig) (*DefaultTokenGenerator, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(config.Secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes")
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "go-passkey"
	}

	audience := config.Audience
	if len(audience) == 0 {
		audience = []string{"go-passkey"}
	}

	expiresIn := config.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	return &DefaultTokenGenerator{
		secret:    config.Secret,
		issuer:    issuer,
		audience:  audience,
		expiresIn: expiresIn,
	}, nil
}

// GenerateToken creates a JWT for the authenticated user. The subject is the
// account identifier; the user handle travels as a custom claim.
func (g *DefaultTokenGenerator) GenerateToken(ctx context.Context, user *User) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss": g.issuer,
		"aud": g.audience,
		"sub": user.ID,
		"iat": now.Unix(),
		"exp": now.Add(g.expiresIn).Unix(),
		"nbf": now.Unix(),
		// Custom claims
		"name":     user.DisplayName,
		"username": user.Name,
		"handle":   encodeBase64URL(user.Handle),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken verifies a JWT and returns the claims.
func (g *DefaultTokenGenerator) VerifyToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return g.secret, nil
		},
		jwt.WithIssuer(g.issuer),
		jwt.WithAudience(g.audience[0]),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}
	return claims, nil
}

// Subject extracts and verifies the account identifier from a token.
func (g *DefaultTokenGenerator) Subject(tokenString string) (string, error) {
	claims, err := g.VerifyToken(tokenString)
	if err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// Issuer returns the configured issuer.
func (g *DefaultTokenGenerator) Issuer() string {
	return g.issuer
}

// ExpiresIn returns the token expiration duration.
func (g *DefaultTokenGenerator) ExpiresIn() time.Duration {
	return g.expiresIn
}
