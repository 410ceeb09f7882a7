package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "super-secret-jwt-token"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func validClaims(now time.Time) Claims {
	return Claims{
		Email: "Ada@Example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "8c1f0d0e-4f77-4c2b-9a59-2a1b4f5e6a7b",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier(testSecret)
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(time.Now()))

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "8c1f0d0e-4f77-4c2b-9a59-2a1b4f5e6a7b" {
		t.Fatalf("unexpected user id %q", id.UserID)
	}
	if id.Email != "ada@example.com" {
		t.Fatalf("expected lower-cased email, got %q", id.Email)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := NewVerifier(testSecret)
	now := time.Now()

	noSubject := validClaims(now)
	noSubject.Subject = ""

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"wrong secret": signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims(now)),
		"wrong alg":    signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(now)),
		"no subject":   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject),
	}
	for name, token := range cases {
		if _, err := v.Verify(token); err != ErrUnauthorized {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestVerifyExpired(t *testing.T) {
	v := NewVerifier(testSecret)
	claims := validClaims(time.Now().Add(-2 * time.Hour))

	if _, err := v.Verify(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims)); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	v := NewVerifier("")
	if v.Configured() {
		t.Fatal("expected verifier to be unconfigured")
	}
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(time.Now()))
	if _, err := v.Verify(token); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"":             "",
		"Bearer":       "",
	}
	for header, want := range cases {
		if got := BearerToken(header); got != want {
			t.Fatalf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatal("expected no identity on empty context")
	}
	ctx := WithIdentity(context.Background(), Identity{UserID: "user-1", Email: "a@b.c"})
	id, ok := IdentityFromContext(ctx)
	if !ok || id.UserID != "user-1" {
		t.Fatalf("unexpected identity %+v", id)
	}
}
