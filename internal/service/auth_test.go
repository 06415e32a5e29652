package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt"

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthService(testSecret)

	token, err := auth.IssueToken("ci-bot", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	principal, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if principal.Subject != "ci-bot" {
		t.Errorf("Subject: got %q, want %q", principal.Subject, "ci-bot")
	}
	if time.Until(principal.ExpiresAt) <= 0 {
		t.Errorf("ExpiresAt in the past: %v", principal.ExpiresAt)
	}
}

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestTokenRejected(t *testing.T) {
	auth := NewAuthService(testSecret)
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "x",
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	otherIssuer := valid
	otherIssuer.Issuer = "someone-else"

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"expired", signed(t, jwt.SigningMethodHS256, []byte(testSecret), expired)},
		{"no expiry", signed(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry)},
		{"wrong issuer", signed(t, jwt.SigningMethodHS256, []byte(testSecret), otherIssuer)},
		{"wrong secret", signed(t, jwt.SigningMethodHS256, []byte("other-secret"), valid)},
		{"none alg", signed(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := auth.ValidateToken(tt.token); err != ErrInvalidToken {
				t.Errorf("ValidateToken err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestEmptySecret(t *testing.T) {
	auth := NewAuthService("")
	if _, err := auth.IssueToken("x", time.Hour); err != ErrNoSecret {
		t.Errorf("IssueToken err = %v, want ErrNoSecret", err)
	}
	if _, err := auth.ValidateToken("x.y.z"); err != ErrNoSecret {
		t.Errorf("ValidateToken err = %v, want ErrNoSecret", err)
	}
}

func TestIssueTokenNeedsPositiveTTL(t *testing.T) {
	if _, err := NewAuthService(testSecret).IssueToken("x", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}
