package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeExpiry extracts the expiry claim from a token without
// verifying its signature. Used by the revocation engine to bound a
// blacklist entry's TTL to the remaining life of the agent's session
// token; a forged expiry only shortens or lengthens the cache TTL,
// never grants access, so the unverified decode is acceptable here.
func DecodeExpiry(tokenString string) (time.Time, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode token: %w", err)
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}

	return exp.Time, nil
}

// DecodeTokenID extracts a stable identifier for a token without
// verifying it: the JTI claim when present, otherwise a prefix of the
// raw token string.
func DecodeTokenID(tokenString string) string {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err == nil {
		if jti, ok := claims["jti"].(string); ok && jti != "" {
			return jti
		}
	}
	if len(tokenString) > 32 {
		return tokenString[:32]
	}
	return tokenString
}
