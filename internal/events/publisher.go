package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"c2core/internal/db"
	"c2core/internal/model"
)

// Dashboard event topics and types.
const (
	TopicTasks  = "tasks"
	TopicAgents = "agents"

	TypeTaskEnqueued     = "task_enqueued"
	TypeTaskCompleted    = "task_completed"
	TypeAgentBlacklisted = "agent_blacklisted"
	TypeAgentUnblocked   = "agent_unblocked"
)

// Publish writes the event to the database and broadcasts it to every
// connected dashboard. The durable row lets reconnecting clients catch
// up from their last seen event id.
func Publish(topic, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Events] Failed to marshal payload: %v", err)
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := model.Event{
		Topic:     topic,
		EventType: eventType,
		Payload:   string(payloadJSON),
	}
	if err := db.GetDB().Create(&event).Error; err != nil {
		log.Printf("[Events] Failed to write event to database: %v", err)
		return fmt.Errorf("failed to write event to database: %w", err)
	}

	// Broadcast failure cannot affect the main flow
	BroadcastToAll(topic+":update", map[string]interface{}{
		"eventId": event.ID,
		"type":    eventType,
		"data":    payload,
	})
	return nil
}

// GetIncrementalEvents returns events on the topic with id >
// lastEventID, oldest first, limited to maxCount.
func GetIncrementalEvents(topic string, lastEventID int64, maxCount int) ([]model.Event, error) {
	var events []model.Event
	err := db.GetDB().
		Where("topic = ? AND id > ?", topic, lastEventID).
		Order("id ASC").
		Limit(maxCount).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query incremental events: %w", err)
	}
	return events, nil
}

// GetLatestEventID returns the newest event id on the topic, 0 when
// the topic has no events yet.
func GetLatestEventID(topic string) (int64, error) {
	var event model.Event
	err := db.GetDB().
		Where("topic = ?", topic).
		Order("id DESC").
		Limit(1).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query latest event: %w", err)
	}
	return event.ID, nil
}
