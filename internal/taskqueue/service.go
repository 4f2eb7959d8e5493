package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"c2core/internal/cache"
)

// Notification types published on agent and tenant channels.
const (
	NotifyNewTask       = "NEW_TASK"
	NotifyBroadcastTask = "BROADCAST_TASK"
)

// Task is one unit of queued work. Agents consume `cmd`; `command` is
// the legacy alias still produced by older task rows and is folded
// into `cmd` on enqueue.
type Task struct {
	ID         string          `json:"id,omitempty"`
	TaskID     string          `json:"task_id,omitempty"`
	AgentID    string          `json:"agentId,omitempty"`
	TenantID   int             `json:"tenantId,omitempty"`
	Cmd        string          `json:"cmd,omitempty"`
	Command    string          `json:"command,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	EnqueuedAt string          `json:"enqueuedAt,omitempty"`
}

// Identifier returns the task's id, preferring the modern field.
func (t Task) Identifier() string {
	if t.ID != "" {
		return t.ID
	}
	return t.TaskID
}

// Notification is the lightweight wake-up message published when work
// arrives. It carries no payload guarantee; the queue list stays the
// source of truth and listeners re-check it on wake-up.
type Notification struct {
	Type      string `json:"type"`
	AgentID   string `json:"agentId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	Task      *Task  `json:"task,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ProcessingRecord tracks a task handed to an agent but not yet
// acknowledged complete.
type ProcessingRecord struct {
	TaskID             string    `json:"taskId"`
	Task               Task      `json:"task"`
	DequeuedAt         time.Time `json:"dequeuedAt"`
	VisibilityDeadline time.Time `json:"visibilityDeadline"`
}

// AgentQueueStat is one agent's pending depth inside TenantStats.
type AgentQueueStat struct {
	AgentID      string `json:"agentId"`
	PendingTasks int64  `json:"pendingTasks"`
}

// TenantStats summarizes every per-agent queue under a tenant.
type TenantStats struct {
	TenantID     int              `json:"tenantId"`
	TotalPending int64            `json:"totalPending"`
	AgentCount   int              `json:"agentCount"`
	AgentStats   []AgentQueueStat `json:"agentStats"`
}

// Config holds the queue engine configuration
type Config struct {
	// VisibilityWindow bounds how long a dequeued task is considered
	// in flight before its processing record expires. Default 1 hour.
	VisibilityWindow time.Duration
}

// Service is the work queue engine: one ordered FIFO list per
// (agent, tenant), a processing hash for in-flight work, and pub/sub
// wake-up channels.
type Service struct {
	store  Store
	cfg    Config
	logger *logrus.Entry
}

// NewService creates the queue engine.
func NewService(store Store, cfg Config, logger *logrus.Entry) *Service {
	if cfg.VisibilityWindow <= 0 {
		cfg.VisibilityWindow = time.Hour
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logger.WithField("component", "task-queue"),
	}
}

func queueKey(agentID string, tenantID int) string {
	return cache.Key("queue:agent", agentID, tenantID)
}

func processingKey(agentID string, tenantID int) string {
	return cache.Key("processing:agent", agentID, tenantID)
}

func channelKey(agentID string, tenantID int) string {
	return cache.Key("channel:agent", agentID, tenantID)
}

func broadcastKey(tenantID int) string {
	return cache.Key("channel:tenant", "broadcast", tenantID)
}

// Enqueue appends the task to the tail of the agent's queue and
// publishes a wake-up notification. Returns the queue length after
// the append. The notification is advisory and at-most-once; a
// publish failure is logged, not surfaced.
func (s *Service) Enqueue(ctx context.Context, agentID string, tenantID int, task Task) (int64, error) {
	if agentID == "" {
		return 0, fmt.Errorf("agentID is required")
	}
	if task.Cmd == "" && task.Command != "" {
		task.Cmd = task.Command
	}
	task.EnqueuedAt = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(task)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal task: %w", err)
	}

	length, err := s.store.Push(ctx, queueKey(agentID, tenantID), string(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.notify(ctx, channelKey(agentID, tenantID), Notification{
		Type:      NotifyNewTask,
		AgentID:   agentID,
		TaskID:    task.Identifier(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	s.logger.Infof("Task %s enqueued for agent %s (depth %d)", task.Identifier(), agentID, length)
	return length, nil
}

// Dequeue pops the queue head and records the in-flight task in the
// processing hash, atomically. Returns nil when the queue is empty.
func (s *Service) Dequeue(ctx context.Context, agentID string, tenantID int) (*Task, error) {
	now := time.Now()
	item, err := s.store.PopToProcessing(ctx,
		queueKey(agentID, tenantID),
		processingKey(agentID, tenantID),
		now, now.Add(s.cfg.VisibilityWindow), s.cfg.VisibilityWindow,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}
	if item == "" {
		return nil, nil
	}

	var task Task
	if err := json.Unmarshal([]byte(item), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dequeued task: %w", err)
	}

	s.logger.Infof("Task %s dequeued by agent %s", task.Identifier(), agentID)
	return &task, nil
}

// Complete acknowledges a task and drops its processing record.
// Completing an unknown or already-completed task is a no-op.
func (s *Service) Complete(ctx context.Context, agentID string, tenantID int, taskID string) error {
	if err := s.store.HDel(ctx, processingKey(agentID, tenantID), taskID); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	s.logger.Infof("Task %s completed by agent %s", taskID, agentID)
	return nil
}

// Remove cancels a still-pending task by id: linear scan of the list,
// then removal of the exact serialized element. Returns false when no
// pending task matches (it may already have been dequeued).
func (s *Service) Remove(ctx context.Context, agentID string, tenantID int, taskID string) (bool, error) {
	key := queueKey(agentID, tenantID)
	items, err := s.store.Range(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to scan queue: %w", err)
	}

	for _, item := range items {
		var task Task
		if err := json.Unmarshal([]byte(item), &task); err != nil {
			continue
		}
		if task.Identifier() != taskID {
			continue
		}
		removed, err := s.store.Remove(ctx, key, item)
		if err != nil {
			return false, fmt.Errorf("failed to remove task: %w", err)
		}
		if removed > 0 {
			s.logger.Infof("Task %s removed from queue for agent %s", taskID, agentID)
			return true, nil
		}
		return false, nil
	}
	return false, nil
}

// Pending returns the agent's queued tasks without consuming them.
func (s *Service) Pending(ctx context.Context, agentID string, tenantID int) ([]Task, error) {
	items, err := s.store.Range(ctx, queueKey(agentID, tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to read pending tasks: %w", err)
	}

	tasks := make([]Task, 0, len(items))
	for _, item := range items {
		var task Task
		if err := json.Unmarshal([]byte(item), &task); err != nil {
			s.logger.Warnf("Skipping unparseable queue entry for agent %s: %v", agentID, err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Processing returns the agent's in-flight tasks.
func (s *Service) Processing(ctx context.Context, agentID string, tenantID int) ([]ProcessingRecord, error) {
	fields, err := s.store.HGetAll(ctx, processingKey(agentID, tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to read processing tasks: %w", err)
	}

	records := make([]ProcessingRecord, 0, len(fields))
	for taskID, data := range fields {
		var rec ProcessingRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warnf("Skipping unparseable processing record %s for agent %s: %v", taskID, agentID, err)
			continue
		}
		rec.TaskID = taskID
		records = append(records, rec)
	}
	return records, nil
}

// QueueLength returns the agent's pending depth.
func (s *Service) QueueLength(ctx context.Context, agentID string, tenantID int) (int64, error) {
	return s.store.Len(ctx, queueKey(agentID, tenantID))
}

// Clear drops both the pending list and the processing record for an
// agent. Emergency use, typically alongside blacklisting.
func (s *Service) Clear(ctx context.Context, agentID string, tenantID int) error {
	if err := s.store.Del(ctx, queueKey(agentID, tenantID), processingKey(agentID, tenantID)); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	s.logger.Infof("Queue cleared for agent %s", agentID)
	return nil
}

// TenantStats enumerates every per-agent queue under the tenant.
func (s *Service) TenantStats(ctx context.Context, tenantID int) (*TenantStats, error) {
	keys, err := s.store.Keys(ctx, queueKey("*", tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant queues: %w", err)
	}

	stats := &TenantStats{
		TenantID:   tenantID,
		AgentCount: len(keys),
		AgentStats: make([]AgentQueueStat, 0, len(keys)),
	}
	for _, key := range keys {
		length, err := s.store.Len(ctx, key)
		if err != nil {
			s.logger.Errorf("Failed to read queue length for %s: %v", key, err)
			continue
		}
		parts := strings.Split(key, ":")
		stats.AgentStats = append(stats.AgentStats, AgentQueueStat{
			AgentID:      parts[len(parts)-1],
			PendingTasks: length,
		})
		stats.TotalPending += length
	}
	return stats, nil
}

// TaskSubscription delivers parsed wake-up notifications for one
// agent channel.
type TaskSubscription struct {
	sub           Subscription
	notifications chan Notification
	logger        *logrus.Entry
}

// Notifications returns the subscription's message stream. The
// channel is closed when the subscription closes.
func (t *TaskSubscription) Notifications() <-chan Notification {
	return t.notifications
}

// Close tears down the subscription.
func (t *TaskSubscription) Close() error {
	return t.sub.Close()
}

func (t *TaskSubscription) pump() {
	defer close(t.notifications)
	for msg := range t.sub.Messages() {
		var n Notification
		if err := json.Unmarshal([]byte(msg), &n); err != nil {
			t.logger.Warnf("Skipping unparseable task notification: %v", err)
			continue
		}
		// Wake-ups are advisory and at-most-once; dropping on a full
		// buffer keeps this goroutine from blocking forever when the
		// listener stops draining (e.g. a long poll that just timed
		// out). The listener re-checks the queue on its next cycle.
		select {
		case t.notifications <- n:
		default:
		}
	}
}

// Subscribe opens a wake-up stream for the agent's channel. Used by
// long-poll and streaming listeners; the queue itself remains the
// source of truth.
func (s *Service) Subscribe(ctx context.Context, agentID string, tenantID int) (*TaskSubscription, error) {
	sub, err := s.store.Subscribe(ctx, channelKey(agentID, tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to task channel: %w", err)
	}

	ts := &TaskSubscription{
		sub:           sub,
		notifications: make(chan Notification, 1),
		logger:        s.logger,
	}
	go ts.pump()

	s.logger.Infof("Agent %s subscribed to task notifications", agentID)
	return ts, nil
}

// BroadcastToTenant publishes a task to the tenant-wide channel for
// tenant-scoped work.
func (s *Service) BroadcastToTenant(ctx context.Context, tenantID int, task Task) error {
	payload, err := json.Marshal(Notification{
		Type:      NotifyBroadcastTask,
		Task:      &task,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}
	if err := s.store.Publish(ctx, broadcastKey(tenantID), string(payload)); err != nil {
		return fmt.Errorf("failed to broadcast task: %w", err)
	}
	s.logger.Infof("Task %s broadcast to tenant %d", task.Identifier(), tenantID)
	return nil
}

func (s *Service) notify(ctx context.Context, channel string, n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		s.logger.Errorf("Failed to marshal notification: %v", err)
		return
	}
	if err := s.store.Publish(ctx, channel, string(payload)); err != nil {
		s.logger.Errorf("Failed to publish notification on %s: %v", channel, err)
	}
}
