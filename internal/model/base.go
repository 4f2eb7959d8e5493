package model

import (
	"time"
)

// BaseModel carries the surrogate key and timestamps shared by every
// table. Rows that agents address by business key (agentId, taskId,
// certId) keep those as separate indexed columns.
type BaseModel struct {
	ID        int       `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
