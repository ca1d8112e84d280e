// Copyright 2025 Praxis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth validates JWT bearer tokens on inbound requests.
//
// Two validator backings are supported, selected by configuration:
// a JWKS endpoint (asymmetric keys fetched and cached from the identity
// provider) or a shared HMAC secret. Validated claims travel on the
// request context, and an a2asrv.CallInterceptor bridges them to the
// A2A protocol layer's user identity.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/praxisagents/praxis/pkg/config"
)

var (
	// ErrUnauthorized is returned when authentication is required but
	// absent.
	ErrUnauthorized = errors.New("unauthorized: authentication required")

	// ErrInvalidToken is returned when a token fails validation.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the validated claims of a bearer token. Standard claims
// are promoted to fields; everything else lands in Custom.
type Claims struct {
	Subject  string         `json:"sub"`
	Email    string         `json:"email,omitempty"`
	Role     string         `json:"role,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Custom   map[string]any `json:"-"`
}

// HasAnyRole reports whether the claim's role matches any of the given
// roles.
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

// StringClaim returns a custom claim as a string, or "".
func (c *Claims) StringClaim(key string) string {
	if s, ok := c.Custom[key].(string); ok {
		return s
	}
	return ""
}

// TokenValidator validates a raw bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

type claimsKey struct{}

// ContextWithClaims attaches validated claims to a context.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the validated claims, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// NewValidator builds a TokenValidator from config. Returns nil when
// auth is disabled.
func NewValidator(cfg *config.AuthConfig) (TokenValidator, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("auth config: %w", err)
	}
	if cfg.JWKSURL != "" {
		return NewJWKSValidator(cfg.JWKSURL, cfg.Issuer, cfg.Audience)
	}
	return NewSecretValidator(cfg.Secret, cfg.Issuer, cfg.Audience)
}
