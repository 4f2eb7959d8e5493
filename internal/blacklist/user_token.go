package blacklist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"c2core/internal/auth"
)

// userTokenEntry is the metadata stored under a user-token key.
type userTokenEntry struct {
	UserID        int       `json:"userId"`
	Reason        string    `json:"reason"`
	BlacklistedAt time.Time `json:"blacklistedAt"`
}

// BlacklistUserToken revokes an operator session token, keyed by the
// token's JTI when present. The TTL follows the token's remaining
// life, defaulting to 24 hours when no expiry is decodable.
func (s *Service) BlacklistUserToken(ctx context.Context, token string, userID int, reason string) (*Result, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}

	ttl := 24 * time.Hour
	if exp, err := auth.DecodeExpiry(token); err == nil {
		remaining := time.Until(exp)
		if remaining <= 0 {
			return &Result{AlreadyExpired: true}, nil
		}
		ttl = remaining
	} else {
		s.logger.Warnf("Failed to decode user token for TTL: %v", err)
	}

	entry := userTokenEntry{
		UserID:        userID,
		Reason:        reason,
		BlacklistedAt: time.Now(),
	}
	metadata, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	key := userTokenKey(auth.DecodeTokenID(token))
	if err := s.cache.Set(ctx, key, string(metadata), ttl); err != nil {
		return nil, fmt.Errorf("failed to write user token blacklist key: %w", err)
	}

	s.logger.Infof("User %d token blacklisted: %s", userID, reason)
	return &Result{TTL: ttl, ExpiresAt: time.Now().Add(ttl)}, nil
}

// IsUserTokenBlacklisted reports whether the operator session token
// has been revoked. Follows the same fail-open/closed policy as the
// agent check.
func (s *Service) IsUserTokenBlacklisted(ctx context.Context, token string) bool {
	exists, err := s.cache.Exists(ctx, userTokenKey(auth.DecodeTokenID(token)))
	if err != nil {
		s.logger.Errorf("User token blacklist check failed: %v", err)
		return !s.cfg.FailOpen
	}
	return exists
}
