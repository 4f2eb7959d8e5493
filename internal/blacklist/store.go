package blacklist

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"c2core/internal/model"
)

// Store is the durable mirror of the blacklist. It exists for crash
// recovery; the fast cache stays authoritative for enforcement.
type Store interface {
	Upsert(rec *model.AgentBlacklist) error
	CloseEpisode(agentID string, tenantID int) error
	ListActive() ([]model.AgentBlacklist, error)
}

// GormStore implements Store over the relational store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a Store over gorm.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Upsert writes the single active row for (agent, tenant),
// overwriting an existing episode in place.
func (s *GormStore) Upsert(rec *model.AgentBlacklist) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "agent_id"}, {Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"reason", "blacklisted_at", "expires_at", "revoked",
			"revoked_cert_id", "cert_fingerprint",
		}),
	}).Create(rec).Error
}

// CloseEpisode flips the row's revoked flag, marking the blacklist
// episode as closed.
func (s *GormStore) CloseEpisode(agentID string, tenantID int) error {
	return s.db.Model(&model.AgentBlacklist{}).
		Where("agent_id = ? AND tenant_id = ?", agentID, tenantID).
		Update("revoked", true).Error
}

// ListActive returns every open episode that has not yet expired.
func (s *GormStore) ListActive() ([]model.AgentBlacklist, error) {
	var rows []model.AgentBlacklist
	err := s.db.
		Where("revoked = ? AND (expires_at IS NULL OR expires_at > ?)", false, time.Now()).
		Find(&rows).Error
	return rows, err
}
