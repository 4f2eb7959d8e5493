package auth

import (
	"testing"
)

func TestHashPassword(t *testing.T) {
	plain := "correct horse battery staple"

	hash, err := HashPassword(plain)
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}
	if hash == "" {
		t.Error("Expected non-empty hash")
	}
	if hash == plain {
		t.Error("Hash should not equal the plain text password")
	}
}

func TestComparePassword(t *testing.T) {
	plain := "correct horse battery staple"

	hash, err := HashPassword(plain)
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}

	if err := ComparePassword(hash, plain); err != nil {
		t.Errorf("ComparePassword() failed for the correct password: %v", err)
	}
	if err := ComparePassword(hash, "not the password"); err == nil {
		t.Error("ComparePassword() should fail for a wrong password")
	}
}

func TestHashPassword_SaltedPerCall(t *testing.T) {
	plain := "correct horse battery staple"

	hash1, err := HashPassword(plain)
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}
	hash2, err := HashPassword(plain)
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}

	if hash1 == hash2 {
		t.Error("Expected different hashes for the same password (bcrypt salt)")
	}
	if err := ComparePassword(hash1, plain); err != nil {
		t.Error("First hash should validate")
	}
	if err := ComparePassword(hash2, plain); err != nil {
		t.Error("Second hash should validate")
	}
}
