package dispatch

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"c2core/internal/model"
)

// GormAgentStore implements AgentStore over the relational store.
type GormAgentStore struct {
	db *gorm.DB
}

// NewGormAgentStore creates an AgentStore over gorm.
func NewGormAgentStore(db *gorm.DB) *GormAgentStore {
	return &GormAgentStore{db: db}
}

// FindAgent returns the agent row, or nil when none exists.
func (s *GormAgentStore) FindAgent(agentID string, tenantID int) (*model.Agent, error) {
	var agent model.Agent
	err := s.db.Where("agent_id = ? AND tenant_id = ?", agentID, tenantID).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// TouchAgent stamps the agent's last-seen time and keeps its status
// active.
func (s *GormAgentStore) TouchAgent(agentID string, tenantID int, seenAt time.Time) error {
	return s.db.Model(&model.Agent{}).
		Where("agent_id = ? AND tenant_id = ?", agentID, tenantID).
		Updates(map[string]interface{}{
			"last_seen_at": seenAt,
			"status":       model.AgentStatusActive,
		}).Error
}

// SaveResult persists one reported task result.
func (s *GormAgentStore) SaveResult(rec *model.TaskResult) error {
	return s.db.Create(rec).Error
}

// UpdateTaskStatus moves the durable task row to the given status.
func (s *GormAgentStore) UpdateTaskStatus(taskID, status string) error {
	return s.db.Model(&model.Task{}).
		Where("task_id = ?", taskID).
		Update("status", status).Error
}
