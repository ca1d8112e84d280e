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
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/praxisagents/praxis/pkg/config"
)

const testSecret = "praxis-test-secret"

func signSecretToken(t *testing.T, issuer, audience string, claims map[string]any) string {
	t.Helper()

	token := jwt.New()
	for key, value := range map[string]any{
		jwt.SubjectKey:    "user-1",
		jwt.IssuerKey:     issuer,
		jwt.AudienceKey:   audience,
		jwt.IssuedAtKey:   time.Now(),
		jwt.ExpirationKey: time.Now().Add(time.Hour),
	} {
		if err := token.Set(key, value); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	for key, value := range claims {
		if err := token.Set(key, value); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func TestSecretValidator_ValidToken(t *testing.T) {
	validator, err := NewSecretValidator(testSecret, "praxis", "praxis-api")
	if err != nil {
		t.Fatalf("NewSecretValidator: %v", err)
	}

	tokenString := signSecretToken(t, "praxis", "praxis-api", map[string]any{
		"email":     "dev@example.com",
		"role":      "admin",
		"tenant_id": "acme",
		"plan":      "pro",
	})

	claims, err := validator.ValidateToken(context.Background(), tokenString)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
	if claims.Email != "dev@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
	if claims.Role != "admin" {
		t.Errorf("Role = %q", claims.Role)
	}
	if claims.TenantID != "acme" {
		t.Errorf("TenantID = %q", claims.TenantID)
	}
	if claims.StringClaim("plan") != "pro" {
		t.Errorf("custom claim plan = %q, want pro", claims.StringClaim("plan"))
	}
}

func TestSecretValidator_Rejections(t *testing.T) {
	validator, err := NewSecretValidator(testSecret, "praxis", "praxis-api")
	if err != nil {
		t.Fatalf("NewSecretValidator: %v", err)
	}
	ctx := context.Background()

	if _, err := validator.ValidateToken(ctx, "not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}

	wrongIssuer := signSecretToken(t, "someone-else", "praxis-api", nil)
	if _, err := validator.ValidateToken(ctx, wrongIssuer); err == nil {
		t.Error("expected error for issuer mismatch")
	}

	expired := jwt.New()
	_ = expired.Set(jwt.SubjectKey, "user-1")
	_ = expired.Set(jwt.IssuerKey, "praxis")
	_ = expired.Set(jwt.AudienceKey, "praxis-api")
	_ = expired.Set(jwt.ExpirationKey, time.Now().Add(-time.Hour))
	signed, err := jwt.Sign(expired, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	if err != nil {
		t.Fatalf("sign expired token: %v", err)
	}
	if _, err := validator.ValidateToken(ctx, string(signed)); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestJWKSValidator_ValidToken(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	publicJWK, err := jwk.FromRaw(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("public jwk: %v", err)
	}
	_ = publicJWK.Set(jwk.KeyIDKey, "key-1")
	_ = publicJWK.Set(jwk.AlgorithmKey, jwa.RS256)
	keyset := jwk.NewSet()
	_ = keyset.AddKey(publicJWK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	defer srv.Close()

	validator, err := NewJWKSValidator(srv.URL, "praxis", "")
	if err != nil {
		t.Fatalf("NewJWKSValidator: %v", err)
	}

	token := jwt.New()
	_ = token.Set(jwt.SubjectKey, "user-2")
	_ = token.Set(jwt.IssuerKey, "praxis")
	_ = token.Set(jwt.ExpirationKey, time.Now().Add(time.Hour))
	privateJWK, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("private jwk: %v", err)
	}
	_ = privateJWK.Set(jwk.KeyIDKey, "key-1")
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, privateJWK))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	claims, err := validator.ValidateToken(context.Background(), string(signed))
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "user-2" {
		t.Errorf("Subject = %q, want user-2", claims.Subject)
	}
}

func TestMiddlewareWithExclusions(t *testing.T) {
	validator, err := NewSecretValidator(testSecret, "", "")
	if err != nil {
		t.Fatalf("NewSecretValidator: %v", err)
	}

	var gotClaims *Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := MiddlewareWithExclusions(validator, []string{"/health"})(inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("excluded path status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/agents/assistant", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/agents/assistant", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/agents/assistant", nil)
	req.Header.Set("Authorization", "Bearer "+signSecretToken(t, "", "", map[string]any{"role": "user"}))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, want 200", rec.Code)
	}
	if gotClaims == nil || gotClaims.Subject != "user-1" {
		t.Errorf("claims not propagated: %+v", gotClaims)
	}
}

func TestRequireRole(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireRole("admin")(inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/tasks", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no claims status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/tasks", nil)
	req = req.WithContext(ContextWithClaims(req.Context(), &Claims{Subject: "u", Role: "viewer"}))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong role status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/tasks", nil)
	req = req.WithContext(ContextWithClaims(req.Context(), &Claims{Subject: "u", Role: "admin"}))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin role status = %d, want 200", rec.Code)
	}
}

func TestNewValidatorDisabled(t *testing.T) {
	validator, err := NewValidator(&config.AuthConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if validator != nil {
		t.Error("disabled auth should yield a nil validator")
	}
}
