package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyToken(t *testing.T) {
	t.Parallel()

	hash, err := HashToken("connector-secret")
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	if cost, err := bcrypt.Cost([]byte(hash)); err != nil || cost != DefaultBcryptCost {
		t.Fatalf("unexpected bcrypt cost %d err=%v", cost, err)
	}
	if !VerifyToken(" connector-secret ", hash) {
		t.Fatalf("expected token verification to succeed")
	}
	if VerifyToken("wrong", hash) || VerifyToken("", hash) || VerifyToken("connector-secret", "") {
		t.Fatalf("did not expect wrong or empty input to verify")
	}
	if _, err := HashToken("  "); err == nil {
		t.Fatalf("expected empty token to be rejected")
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	if got, ok := BearerToken("Bearer abc123"); !ok || got != "abc123" {
		t.Fatalf("unexpected token %q ok=%v", got, ok)
	}
	if got, ok := BearerToken("bearer   abc123 "); !ok || got != "abc123" {
		t.Fatalf("expected case-insensitive scheme, got %q ok=%v", got, ok)
	}
	for _, header := range []string{"", "Basic abc", "Bearer", "Bearer   "} {
		if _, ok := BearerToken(header); ok {
			t.Fatalf("did not expect %q to yield a token", header)
		}
	}
}
