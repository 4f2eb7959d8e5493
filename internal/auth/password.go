package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes an operator password for storage in the users
// table. Agents never carry passwords; their credential is the
// session token plus client certificate.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword checks a login attempt against the stored hash.
func ComparePassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
