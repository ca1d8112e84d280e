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
	"fmt"
	"net/http"
	"strings"
)

// Middleware rejects requests without a valid bearer token. Validated
// claims are stored on the request context for downstream handlers.
func Middleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			tokenString := extractToken(authHeader)
			if tokenString == "" {
				writeAuthError(w, "invalid Authorization format, expected: Bearer <token>", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(r.Context(), tokenString)
			if err != nil {
				writeAuthError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := ContextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MiddlewareWithExclusions skips validation for the listed paths, with
// or without a trailing slash. Health checks and agent-card discovery
// stay public this way.
func MiddlewareWithExclusions(validator TokenValidator, excludedPaths []string) func(http.Handler) http.Handler {
	excluded := make(map[string]bool, len(excludedPaths))
	for _, path := range excludedPaths {
		excluded[strings.TrimSuffix(path, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		authed := Middleware(validator)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[strings.TrimSuffix(r.URL.Path, "/")] {
				next.ServeHTTP(w, r)
				return
			}
			authed.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects authenticated users lacking any of the given
// roles. Chain after Middleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeAuthError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !claims.HasAnyRole(roles...) {
				writeAuthError(w, "forbidden: insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(authHeader string) string {
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return authHeader
}

func writeAuthError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
