package model

import "time"

// RevokedCertificate is one entry of the CA's revoked set in durable
// form. The flat CRL file is a derived rendering; these rows are the
// reloadable source of truth across restarts.
type RevokedCertificate struct {
	BaseModel
	CertID    string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"certId"`
	Reason    string    `gorm:"type:varchar(255)" json:"reason"`
	RevokedAt time.Time `gorm:"not null" json:"revokedAt"`
}

// TableName specifies the table name for RevokedCertificate
func (RevokedCertificate) TableName() string {
	return "revoked_certificates"
}
