package model

import "time"

// AgentBlacklist is the durable mirror of a blacklist episode. The
// Redis key is authoritative for hot-path enforcement; this row lets
// the cache be rebuilt after a restart. At most one active
// (revoked=false) row exists per (agent, tenant) pair; re-blacklisting
// updates it in place. Revoked=true means the episode is closed, not
// that the agent is trusted again.
type AgentBlacklist struct {
	BaseModel
	AgentID         string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_agent_tenant" json:"agentId"`
	TenantID        int        `gorm:"not null;uniqueIndex:idx_agent_tenant" json:"tenantId"`
	Reason          string     `gorm:"type:varchar(255)" json:"reason"`
	BlacklistedAt   time.Time  `gorm:"not null" json:"blacklistedAt"`
	ExpiresAt       *time.Time `gorm:"index" json:"expiresAt"`
	Revoked         bool       `gorm:"default:false;index" json:"revoked"`
	RevokedCertID   string     `gorm:"type:varchar(191)" json:"revokedCertId,omitempty"`
	CertFingerprint string     `gorm:"type:varchar(64)" json:"certFingerprint,omitempty"`
}

// TableName specifies the table name for AgentBlacklist
func (AgentBlacklist) TableName() string {
	return "agent_blacklists"
}
