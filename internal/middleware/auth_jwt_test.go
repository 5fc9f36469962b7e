package middleware

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSignAndVerifyJWT(t *testing.T) {
	cfg := JWTConfig{Secret: "test-secret", Issuer: "creditjobs", Audience: "clients"}
	claims := TokenClaims{
		Sub:      "owner-123",
		Locale:   "id",
		Exp:      time.Now().Add(time.Hour).Unix(),
		Issuer:   "creditjobs",
		Audience: "clients",
	}
	token, err := SignJWT(cfg.Secret, claims)
	if err != nil {
		t.Fatalf("SignJWT() unexpected error: %v", err)
	}
	parsed, err := VerifyJWT(cfg, token)
	if err != nil {
		t.Fatalf("VerifyJWT() unexpected error: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.Locale != claims.Locale {
		t.Fatalf("VerifyJWT() returned %+v, want %+v", parsed, claims)
	}
}

func TestVerifyJWTRejects(t *testing.T) {
	valid := TokenClaims{Sub: "owner-123", Exp: time.Now().Add(time.Hour).Unix(), Issuer: "creditjobs"}
	tests := []struct {
		name   string
		cfg    JWTConfig
		token  func() string
		target error
	}{
		{
			name: "wrong secret",
			cfg:  JWTConfig{Secret: "secret-b"},
			token: func() string {
				tok, _ := SignJWT("secret-a", valid)
				return tok
			},
			target: ErrInvalidToken,
		},
		{
			name: "expired",
			cfg:  JWTConfig{Secret: "secret"},
			token: func() string {
				c := valid
				c.Exp = time.Now().Add(-time.Minute).Unix()
				tok, _ := SignJWT("secret", c)
				return tok
			},
			target: ErrTokenExpired,
		},
		{
			name: "issuer mismatch",
			cfg:  JWTConfig{Secret: "secret", Issuer: "someone-else"},
			token: func() string {
				tok, _ := SignJWT("secret", valid)
				return tok
			},
			target: ErrInvalidToken,
		},
		{
			name: "missing subject",
			cfg:  JWTConfig{Secret: "secret"},
			token: func() string {
				c := valid
				c.Sub = ""
				tok, _ := SignJWT("secret", c)
				return tok
			},
			target: ErrInvalidToken,
		},
		{
			name: "alg none",
			cfg:  JWTConfig{Secret: "secret"},
			token: func() string {
				tok, _ := SignJWT("secret", valid)
				parts := strings.Split(tok, ".")
				parts[0] = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
				return strings.Join(parts, ".")
			},
			target: ErrInvalidToken,
		},
		{
			name:   "malformed",
			cfg:    JWTConfig{Secret: "secret"},
			token:  func() string { return "not-a-token" },
			target: ErrInvalidToken,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := VerifyJWT(tc.cfg, tc.token()); !errors.Is(err, tc.target) {
				t.Fatalf("VerifyJWT() err = %v, want %v", err, tc.target)
			}
		})
	}
}

func TestAuthJWTStoresOwner(t *testing.T) {
	cfg := JWTConfig{Secret: "secret"}
	token, err := SignJWT(cfg.Secret, TokenClaims{Sub: "owner-9", Locale: "id-ID", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}

	var owner, locale string
	handler := AuthJWT(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner = OwnerIDFromContext(r.Context())
		locale = LocaleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if owner != "owner-9" || locale != "id" {
		t.Fatalf("owner = %q locale = %q", owner, locale)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header status = %d, want 401", rec.Code)
	}
}
