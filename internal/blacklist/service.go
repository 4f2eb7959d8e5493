package blacklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"c2core/internal/auth"
	"c2core/internal/cache"
	"c2core/internal/model"
)

// CertRevoker is the slice of the CA engine the cascade needs.
type CertRevoker interface {
	Revoke(certID, reason string) error
}

// Config holds the revocation engine configuration
type Config struct {
	// DefaultTTL bounds an episode when no session-token expiry is
	// derivable. The source system's default is 7 days.
	DefaultTTL time.Duration
	// FailOpen controls what IsBlacklisted reports when the fast
	// cache is unreachable. The source system fails open: C2 channel
	// availability wins, since the durable mirror and the certificate
	// cascade still enforce elsewhere. Deployments that need
	// fail-closed flip this off.
	FailOpen bool
	// FingerprintRevocation enables fingerprint-keyed revocation
	// markers for agents carrying a baked-in long-lived certificate
	// instead of a per-session one.
	FingerprintRevocation bool
}

// Service is the revocation/blacklist engine.
type Service struct {
	cache   Cache
	store   Store
	revoker CertRevoker
	cfg     Config
	logger  *logrus.Entry
}

// NewService creates the revocation engine. revoker may be nil when
// no CA cascade is wired (the queue-access revocation still holds).
func NewService(c Cache, s Store, revoker CertRevoker, cfg Config, logger *logrus.Entry) *Service {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 7 * 24 * time.Hour
	}
	return &Service{
		cache:   c,
		store:   s,
		revoker: revoker,
		cfg:     cfg,
		logger:  logger.WithField("component", "blacklist-engine"),
	}
}

// Entry is the metadata stored under a blacklist cache key.
type Entry struct {
	Reason        string    `json:"reason"`
	BlacklistedAt time.Time `json:"blacklistedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	RevokedCertID string    `json:"revokedCertId,omitempty"`
}

// Info is an Entry resolved from the cache together with its agent id
// and remaining TTL.
type Info struct {
	AgentID      string `json:"agentId"`
	Entry
	RemainingTTL time.Duration `json:"remainingTTL"`
}

// Params describes one blacklist request.
type Params struct {
	AgentID  string
	TenantID int
	Reason   string
	// TTLSeconds overrides TTL resolution when > 0.
	TTLSeconds int
	// SessionToken, when set, bounds the episode to the token's
	// remaining life.
	SessionToken string
	// CertID triggers the certificate revocation cascade.
	CertID string
	// CertFingerprint is used when no CertID is on record and
	// fingerprint revocation is enabled.
	CertFingerprint string
}

// Result reports the outcome of a Blacklist call.
type Result struct {
	AlreadyExpired bool          `json:"alreadyExpired,omitempty"`
	TTL            time.Duration `json:"ttl"`
	ExpiresAt      time.Time     `json:"expiresAt"`
}

func agentKey(agentID string, tenantID int) string {
	return cache.Key("blacklist:agent", agentID, tenantID)
}

func tenantSetKey(tenantID int) string {
	return cache.Key("blacklist:set", "agents", tenantID)
}

func fingerprintKey(fingerprint string, tenantID int) string {
	return cache.Key("blacklist:fingerprint", fingerprint, tenantID)
}

func userTokenKey(tokenID string) string {
	return cache.Key("blacklist:user", tokenID, 0)
}

// Blacklist revokes an agent's access to queued work. The fast-cache
// write is the primary security boundary and must succeed; the
// durable mirror and the certificate cascade are best-effort and only
// logged on failure.
func (s *Service) Blacklist(ctx context.Context, p Params) (*Result, error) {
	if p.AgentID == "" {
		return nil, fmt.Errorf("agentID is required")
	}
	if p.Reason == "" {
		p.Reason = "unspecified"
	}

	ttl, alreadyExpired := s.resolveTTL(p)
	if alreadyExpired {
		s.logger.Infof("Session token for agent %s already expired, skipping blacklist", p.AgentID)
		return &Result{AlreadyExpired: true}, nil
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	entry := Entry{
		Reason:        p.Reason,
		BlacklistedAt: now,
		ExpiresAt:     expiresAt,
		RevokedCertID: p.CertID,
	}
	metadata, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal blacklist entry: %w", err)
	}

	if err := s.cache.Set(ctx, agentKey(p.AgentID, p.TenantID), string(metadata), ttl); err != nil {
		return nil, fmt.Errorf("failed to write blacklist key: %w", err)
	}
	if err := s.cache.SAdd(ctx, tenantSetKey(p.TenantID), p.AgentID); err != nil {
		return nil, fmt.Errorf("failed to add agent to tenant blacklist set: %w", err)
	}

	s.logger.Infof("Agent %s blacklisted for %s: %s", p.AgentID, ttl, p.Reason)

	// Durable mirror is best-effort; SyncFromStore reconciles later
	if s.store != nil {
		row := &model.AgentBlacklist{
			AgentID:         p.AgentID,
			TenantID:        p.TenantID,
			Reason:          p.Reason,
			BlacklistedAt:   now,
			ExpiresAt:       &expiresAt,
			RevokedCertID:   p.CertID,
			CertFingerprint: p.CertFingerprint,
		}
		if err := s.store.Upsert(row); err != nil {
			s.logger.Errorf("Failed to persist blacklist row for agent %s: %v", p.AgentID, err)
		}
	}

	s.cascade(ctx, p, ttl)

	return &Result{TTL: ttl, ExpiresAt: expiresAt}, nil
}

// resolveTTL picks the effective TTL: explicit value, else the
// remaining life of the session token, else the configured default.
// The second return is true when the token is already expired and no
// record should be written at all.
func (s *Service) resolveTTL(p Params) (time.Duration, bool) {
	if p.TTLSeconds > 0 {
		return time.Duration(p.TTLSeconds) * time.Second, false
	}
	if p.SessionToken != "" {
		exp, err := auth.DecodeExpiry(p.SessionToken)
		if err != nil {
			s.logger.Warnf("Failed to decode session token for agent %s: %v", p.AgentID, err)
			return s.cfg.DefaultTTL, false
		}
		remaining := time.Until(exp)
		if remaining <= 0 {
			return 0, true
		}
		return remaining, false
	}
	return s.cfg.DefaultTTL, false
}

// cascade revokes the agent's certificate as defense in depth. Queue
// access revocation already happened; a cascade failure is logged and
// never fails the blacklist.
func (s *Service) cascade(ctx context.Context, p Params, ttl time.Duration) {
	if p.CertID != "" {
		if s.revoker == nil {
			s.logger.Warnf("No cert revoker wired, skipping cascade for cert %s", p.CertID)
			return
		}
		if err := s.revoker.Revoke(p.CertID, "agent_blacklisted"); err != nil {
			s.logger.Errorf("Failed to revoke certificate %s for agent %s: %v", p.CertID, p.AgentID, err)
			return
		}
		s.logger.Infof("Certificate %s revoked for agent %s", p.CertID, p.AgentID)
		return
	}

	if p.CertFingerprint != "" && s.cfg.FingerprintRevocation {
		if err := s.RevokeCertFingerprint(ctx, p.CertFingerprint, p.TenantID, "agent_blacklisted", ttl); err != nil {
			s.logger.Errorf("Failed to revoke cert fingerprint for agent %s: %v", p.AgentID, err)
		}
		return
	}

	s.logger.Infof("No certId on record for agent %s, skipping certificate revocation", p.AgentID)
}

// IsBlacklisted reports whether the agent currently holds an active
// blacklist entry. On a cache error the configured fail-open/closed
// policy decides the answer.
func (s *Service) IsBlacklisted(ctx context.Context, agentID string, tenantID int) bool {
	exists, err := s.cache.Exists(ctx, agentKey(agentID, tenantID))
	if err != nil {
		s.logger.Errorf("Blacklist check failed for agent %s: %v", agentID, err)
		return !s.cfg.FailOpen
	}
	return exists
}

// RevokeCertFingerprint stores a fingerprint-keyed revocation marker.
// A zero tenantID writes the global marker.
func (s *Service) RevokeCertFingerprint(ctx context.Context, fingerprint string, tenantID int, reason string, ttl time.Duration) error {
	if fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	entry := Entry{Reason: reason, BlacklistedAt: time.Now(), ExpiresAt: time.Now().Add(ttl)}
	metadata, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, fingerprintKey(fingerprint, tenantID), string(metadata), ttl); err != nil {
		return fmt.Errorf("failed to write fingerprint revocation key: %w", err)
	}
	s.logger.Infof("Certificate fingerprint revoked (tenant %d): %s", tenantID, fingerprint)
	return nil
}

// IsCertFingerprintRevoked checks the tenant-scoped marker first,
// then the global one; either hit means revoked.
func (s *Service) IsCertFingerprintRevoked(ctx context.Context, fingerprint string, tenantID int) bool {
	if fingerprint == "" {
		return false
	}
	if tenantID != 0 {
		exists, err := s.cache.Exists(ctx, fingerprintKey(fingerprint, tenantID))
		if err != nil {
			s.logger.Errorf("Fingerprint revocation check failed: %v", err)
			return !s.cfg.FailOpen
		}
		if exists {
			return true
		}
	}
	exists, err := s.cache.Exists(ctx, fingerprintKey(fingerprint, 0))
	if err != nil {
		s.logger.Errorf("Fingerprint revocation check failed: %v", err)
		return !s.cfg.FailOpen
	}
	return exists
}

// Info returns the blacklist metadata and remaining TTL for an agent,
// or nil when no entry exists.
func (s *Service) Info(ctx context.Context, agentID string, tenantID int) (*Info, error) {
	key := agentKey(agentID, tenantID)
	metadata, err := s.cache.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blacklist entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(metadata), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blacklist entry: %w", err)
	}

	ttl, err := s.cache.TTL(ctx, key)
	if err != nil {
		ttl = 0
	}

	return &Info{AgentID: agentID, Entry: entry, RemainingTTL: ttl}, nil
}

// RemoveFromBlacklist closes the episode: cache key deleted, tenant
// set membership removed, durable row flagged revoked. The agent is
// not thereby trusted again; a fresh session and certificate are
// still required.
func (s *Service) RemoveFromBlacklist(ctx context.Context, agentID string, tenantID int) error {
	if err := s.cache.Del(ctx, agentKey(agentID, tenantID)); err != nil {
		return fmt.Errorf("failed to delete blacklist key: %w", err)
	}
	if err := s.cache.SRem(ctx, tenantSetKey(tenantID), agentID); err != nil {
		return fmt.Errorf("failed to remove agent from tenant blacklist set: %w", err)
	}
	if s.store != nil {
		if err := s.store.CloseEpisode(agentID, tenantID); err != nil {
			s.logger.Errorf("Failed to close blacklist episode for agent %s: %v", agentID, err)
		}
	}
	s.logger.Infof("Agent %s removed from blacklist", agentID)
	return nil
}

// ListBlacklisted enumerates the tenant's blacklisted agents. Members
// whose cache entry has already expired are skipped; natural TTL
// expiry means "no longer blacklisted".
func (s *Service) ListBlacklisted(ctx context.Context, tenantID int) ([]Info, error) {
	agentIDs, err := s.cache.SMembers(ctx, tenantSetKey(tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant blacklist set: %w", err)
	}

	infos := make([]Info, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		info, err := s.Info(ctx, agentID, tenantID)
		if err != nil {
			s.logger.Errorf("Failed to resolve blacklist info for agent %s: %v", agentID, err)
			continue
		}
		if info == nil {
			continue
		}
		infos = append(infos, *info)
	}

	return infos, nil
}

// SyncFromStore rebuilds the fast cache from the durable mirror after
// a cache restart. Only open episodes with remaining life are
// restored; a past expiry never widens the trust boundary. Returns
// the number of entries restored.
func (s *Service) SyncFromStore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	rows, err := s.store.ListActive()
	if err != nil {
		return 0, fmt.Errorf("failed to list active blacklist rows: %w", err)
	}

	restored := 0
	for _, row := range rows {
		ttl := s.cfg.DefaultTTL
		expiresAt := time.Now().Add(ttl)
		if row.ExpiresAt != nil {
			ttl = time.Until(*row.ExpiresAt)
			expiresAt = *row.ExpiresAt
		}
		if ttl <= 0 {
			continue
		}

		entry := Entry{
			Reason:        row.Reason,
			BlacklistedAt: row.BlacklistedAt,
			ExpiresAt:     expiresAt,
			RevokedCertID: row.RevokedCertID,
		}
		metadata, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		if err := s.cache.Set(ctx, agentKey(row.AgentID, row.TenantID), string(metadata), ttl); err != nil {
			s.logger.Errorf("Failed to restore blacklist key for agent %s: %v", row.AgentID, err)
			continue
		}
		if err := s.cache.SAdd(ctx, tenantSetKey(row.TenantID), row.AgentID); err != nil {
			s.logger.Errorf("Failed to restore tenant set entry for agent %s: %v", row.AgentID, err)
			continue
		}
		restored++
	}

	if restored > 0 {
		s.logger.Infof("Restored %d blacklist entries from durable store", restored)
	}
	return restored, nil
}
