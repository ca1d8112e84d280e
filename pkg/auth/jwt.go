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

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWKSValidator validates tokens against a JWKS endpoint. The key set
// is cached and refreshed in the background to follow provider key
// rotation.
type JWKSValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewJWKSValidator fetches the key set once to validate the
// configuration, then keeps it refreshed every 15 minutes.
func NewJWKSValidator(jwksURL, issuer, audience string) (*JWKSValidator, error) {
	ctx := context.Background()

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKSValidator{
		jwksURL:  jwksURL,
		cache:    cache,
		issuer:   issuer,
		audience: audience,
	}, nil
}

// ValidateToken implements TokenValidator.
func (v *JWKSValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("get JWKS: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
	}
	opts = append(opts, issuerAudienceOpts(v.issuer, v.audience)...)

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return extractClaims(token), nil
}

// SecretValidator validates tokens signed with a shared HMAC secret.
type SecretValidator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewSecretValidator creates a validator for HS256-signed tokens.
func NewSecretValidator(secret, issuer, audience string) (*SecretValidator, error) {
	if secret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	return &SecretValidator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}, nil
}

// ValidateToken implements TokenValidator.
func (v *SecretValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
	}
	opts = append(opts, issuerAudienceOpts(v.issuer, v.audience)...)

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return extractClaims(token), nil
}

func issuerAudienceOpts(issuer, audience string) []jwt.ParseOption {
	var opts []jwt.ParseOption
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return opts
}

func extractClaims(token jwt.Token) *Claims {
	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}

	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			claims.Email = s
		}
	}
	if role, ok := token.Get("role"); ok {
		if s, ok := role.(string); ok {
			claims.Role = s
		}
	}
	if tenant, ok := token.Get("tenant_id"); ok {
		if s, ok := tenant.(string); ok {
			claims.TenantID = s
		}
	}

	for key, value := range token.PrivateClaims() {
		switch key {
		case "email", "role", "tenant_id":
		default:
			claims.Custom[key] = value
		}
	}
	return claims
}

var (
	_ TokenValidator = (*JWKSValidator)(nil)
	_ TokenValidator = (*SecretValidator)(nil)
)
