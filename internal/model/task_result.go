package model

import (
	"gorm.io/datatypes"
)

// TaskResult stores the output an agent reported for a completed task.
type TaskResult struct {
	BaseModel
	TaskID   string         `gorm:"type:varchar(64);not null;index" json:"taskId"`
	AgentID  string         `gorm:"type:varchar(64);not null;index" json:"agentId"`
	TenantID int            `gorm:"not null;index" json:"tenantId"`
	Output   datatypes.JSON `gorm:"type:json" json:"output,omitempty"`
	ExitCode int            `json:"exitCode"`
}

// TableName specifies the table name for TaskResult
func (TaskResult) TableName() string {
	return "task_results"
}
