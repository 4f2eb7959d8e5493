package ca

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"c2core/internal/model"
)

// RevocationStore persists the revoked set in reloadable form. The
// flat revocation list file is only a derived rendering for relying
// parties; this store is what the engine rehydrates from at startup.
type RevocationStore interface {
	SaveRevocation(certID, reason string, revokedAt time.Time) error
	ListRevocations() ([]string, error)
}

// GormRevocationStore backs the revoked set with the relational store.
type GormRevocationStore struct {
	db *gorm.DB
}

// NewGormRevocationStore creates a RevocationStore over gorm.
func NewGormRevocationStore(db *gorm.DB) *GormRevocationStore {
	return &GormRevocationStore{db: db}
}

// SaveRevocation upserts a revoked_certificates row. Re-revoking the
// same certID is a no-op; the first reason and timestamp win.
func (s *GormRevocationStore) SaveRevocation(certID, reason string, revokedAt time.Time) error {
	row := model.RevokedCertificate{
		CertID:    certID,
		Reason:    reason,
		RevokedAt: revokedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cert_id"}},
		DoNothing: true,
	}).Create(&row).Error
}

// ListRevocations returns every revoked certID.
func (s *GormRevocationStore) ListRevocations() ([]string, error) {
	var ids []string
	if err := s.db.Model(&model.RevokedCertificate{}).Pluck("cert_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
