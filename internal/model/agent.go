package model

import "time"

// AgentStatus represents agent status
type AgentStatus string

const (
	AgentStatusActive  AgentStatus = "active"
	AgentStatusStale   AgentStatus = "stale"
	AgentStatusRetired AgentStatus = "retired"
)

// Agent represents a remote agent enrolled with the platform.
// AgentID is the identity presented on every check-in; CertID and
// CertFingerprint tie the agent to its issued (or baked-in) certificate
// so that blacklisting can cascade into certificate revocation.
type Agent struct {
	AgentID         string      `gorm:"type:varchar(64);primaryKey" json:"agentId"`
	TenantID        int         `gorm:"not null;index" json:"tenantId"`
	Hostname        string      `gorm:"type:varchar(255)" json:"hostname"`
	OS              string      `gorm:"type:varchar(64)" json:"os"`
	Status          AgentStatus `gorm:"type:enum('active','stale','retired');default:'active'" json:"status"`
	CertID          string      `gorm:"type:varchar(191);index" json:"certId"`
	CertFingerprint string      `gorm:"type:varchar(64);index" json:"certFingerprint"`
	SessionToken    string      `gorm:"type:text" json:"-"`
	LastSeenAt      *time.Time  `json:"lastSeenAt"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Agent
func (Agent) TableName() string {
	return "agents"
}
