package auth

import (
	"testing"
	"time"
)

func TestDecodeExpiry(t *testing.T) {
	InitJWT("test-secret-key")

	expireAt := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token, err := GenerateToken(1, "agent-7", "agent", expireAt, "c2core")
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}

	exp, err := DecodeExpiry(token)
	if err != nil {
		t.Fatalf("DecodeExpiry() failed: %v", err)
	}

	if !exp.Equal(expireAt) {
		t.Errorf("Expected expiry %v, got %v", expireAt, exp)
	}
}

func TestDecodeExpiry_ExpiredToken(t *testing.T) {
	InitJWT("test-secret-key")

	// Decoding must succeed even for an expired token; the caller
	// decides what a past expiry means.
	expireAt := time.Now().Add(-1 * time.Hour).Truncate(time.Second)
	token, err := GenerateToken(1, "agent-7", "agent", expireAt, "c2core")
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}

	exp, err := DecodeExpiry(token)
	if err != nil {
		t.Fatalf("DecodeExpiry() failed: %v", err)
	}

	if !exp.Before(time.Now()) {
		t.Error("Expected expiry in the past")
	}
}

func TestDecodeExpiry_Garbage(t *testing.T) {
	if _, err := DecodeExpiry("not-a-token"); err == nil {
		t.Error("DecodeExpiry() should fail for a malformed token")
	}
}

func TestDecodeTokenID_FallsBackToPrefix(t *testing.T) {
	raw := "abcdefghijklmnopqrstuvwxyz0123456789"
	id := DecodeTokenID(raw)
	if id != raw[:32] {
		t.Errorf("Expected 32-char prefix, got %q", id)
	}
}
