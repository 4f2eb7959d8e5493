package model

import (
	"gorm.io/datatypes"
)

// Task status constants
const (
	TaskStatusPending   = "pending"
	TaskStatusSent      = "sent"
	TaskStatusCompleted = "completed"
	TaskStatusCancelled = "cancelled"
)

// Task is the durable record of an operator-issued command. The live
// dispatch copy travels through the Redis queue; this row exists for
// audit and operator listing.
type Task struct {
	BaseModel
	TaskID   string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"taskId"`
	AgentID  string         `gorm:"type:varchar(64);not null;index" json:"agentId"`
	TenantID int            `gorm:"not null;index" json:"tenantId"`
	Command  string         `gorm:"type:varchar(255);not null" json:"cmd"`
	Args     datatypes.JSON `gorm:"type:json" json:"args,omitempty"`
	Status   string         `gorm:"type:enum('pending','sent','completed','cancelled');default:'pending';index" json:"status"`
}

// TableName specifies the table name for Task
func (Task) TableName() string {
	return "tasks"
}
