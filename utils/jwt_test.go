package utils

import (
	"math"
	"testing"
	"time"
)

func TestGenerateAccessToken_RoundTrip(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, err := GenerateAccessToken(42)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	id, ok := claims["id"].(float64)
	if !ok || uint(id) != 42 {
		t.Fatalf("id claim = %v, want 42", claims["id"])
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		t.Fatalf("exp claim missing: %v", claims["exp"])
	}
	want := time.Now().Add(AccessTokenTTL).Unix()
	if math.Abs(exp-float64(want)) > 5 {
		t.Fatalf("exp = %v, want within 5s of %v", int64(exp), want)
	}
}

func TestValidateAccessToken_RejectsExpired(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, err := GenerateAccessTokenWithExpiry(42, -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateAccessToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateAccessToken_RejectsWrongSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	token, err := GenerateAccessToken(42)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	t.Setenv("JWT_SECRET", "another-secret")
	if _, err := ValidateAccessToken(token); err == nil {
		t.Fatal("expected token signed with old secret to be rejected")
	}
}
