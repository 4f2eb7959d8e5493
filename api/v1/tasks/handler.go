package tasks

import (
	"encoding/json"

	"c2core/internal/events"
	"c2core/internal/httpx"
	"c2core/internal/model"
	"c2core/internal/taskqueue"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Handler handles task-related requests
type Handler struct {
	db    *gorm.DB
	queue *taskqueue.Service
}

// NewHandler creates a new tasks handler
func NewHandler(db *gorm.DB, queue *taskqueue.Service) *Handler {
	return &Handler{db: db, queue: queue}
}

// CreateRequest is one operator-issued command.
type CreateRequest struct {
	AgentID  string         `json:"agentId" binding:"required"`
	TenantID int            `json:"tenantId" binding:"required"`
	Command  string         `json:"cmd" binding:"required"`
	Args     map[string]any `json:"args"`
}

// Create persists the task row and enqueues the live dispatch copy.
// POST /api/v1/tasks/create
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	var args datatypes.JSON
	if req.Args != nil {
		raw, err := json.Marshal(req.Args)
		if err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid args payload"))
			return
		}
		args = datatypes.JSON(raw)
	}

	taskID := uuid.NewString()
	row := model.Task{
		TaskID:   taskID,
		AgentID:  req.AgentID,
		TenantID: req.TenantID,
		Command:  req.Command,
		Args:     args,
		Status:   model.TaskStatusPending,
	}
	if err := h.db.Create(&row).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to save task", err))
		return
	}

	length, err := h.queue.Enqueue(c.Request.Context(), req.AgentID, req.TenantID, taskqueue.Task{
		ID:       taskID,
		AgentID:  req.AgentID,
		TenantID: req.TenantID,
		Cmd:      req.Command,
		Args:     json.RawMessage(args),
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to enqueue task", err))
		return
	}

	events.Publish(events.TopicTasks, events.TypeTaskEnqueued, gin.H{
		"taskId":  taskID,
		"agentId": req.AgentID,
		"cmd":     req.Command,
	})

	httpx.OK(c, gin.H{
		"taskId":      taskID,
		"queueLength": length,
	})
}

// Cancel removes a still-pending task from the queue.
// POST /api/v1/tasks/cancel
func (h *Handler) Cancel(c *gin.Context) {
	var req struct {
		AgentID  string `json:"agentId" binding:"required"`
		TenantID int    `json:"tenantId" binding:"required"`
		TaskID   string `json:"taskId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	removed, err := h.queue.Remove(c.Request.Context(), req.AgentID, req.TenantID, req.TaskID)
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to cancel task", err))
		return
	}
	if !removed {
		// Already dequeued or unknown; the durable row keeps its state
		httpx.FailErr(c, httpx.ErrStateConflict("task is no longer pending"))
		return
	}

	if err := h.db.Model(&model.Task{}).
		Where("task_id = ?", req.TaskID).
		Update("status", model.TaskStatusCancelled).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update task status", err))
		return
	}

	httpx.OK(c, gin.H{"removed": true})
}

// Pending returns an agent's queued tasks without consuming them.
// GET /api/v1/tasks/pending?agentId=...&tenantId=...
func (h *Handler) Pending(c *gin.Context) {
	agentID := c.Query("agentId")
	if agentID == "" {
		httpx.FailErr(c, httpx.ErrParamMissing("agentId is required"))
		return
	}

	pending, err := h.queue.Pending(c.Request.Context(), agentID, queryInt(c, "tenantId"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to read pending tasks", err))
		return
	}
	httpx.OK(c, pending)
}

// Processing returns an agent's in-flight tasks.
// GET /api/v1/tasks/processing?agentId=...&tenantId=...
func (h *Handler) Processing(c *gin.Context) {
	agentID := c.Query("agentId")
	if agentID == "" {
		httpx.FailErr(c, httpx.ErrParamMissing("agentId is required"))
		return
	}

	records, err := h.queue.Processing(c.Request.Context(), agentID, queryInt(c, "tenantId"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to read processing tasks", err))
		return
	}
	httpx.OK(c, records)
}

// Stats summarizes every per-agent queue under the tenant.
// GET /api/v1/tasks/stats?tenantId=...
func (h *Handler) Stats(c *gin.Context) {
	tenantID := queryInt(c, "tenantId")
	if tenantID == 0 {
		httpx.FailErr(c, httpx.ErrParamMissing("tenantId is required"))
		return
	}

	stats, err := h.queue.TenantStats(c.Request.Context(), tenantID)
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to read queue stats", err))
		return
	}
	httpx.OK(c, stats)
}

// Broadcast publishes a task to the tenant-wide channel.
// POST /api/v1/tasks/broadcast
func (h *Handler) Broadcast(c *gin.Context) {
	var req struct {
		TenantID int            `json:"tenantId" binding:"required"`
		Command  string         `json:"cmd" binding:"required"`
		Args     map[string]any `json:"args"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	var args json.RawMessage
	if req.Args != nil {
		raw, err := json.Marshal(req.Args)
		if err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid args payload"))
			return
		}
		args = raw
	}

	taskID := uuid.NewString()
	if err := h.queue.BroadcastToTenant(c.Request.Context(), req.TenantID, taskqueue.Task{
		TaskID:   taskID,
		TenantID: req.TenantID,
		Cmd:      req.Command,
		Args:     args,
	}); err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to broadcast task", err))
		return
	}

	httpx.OK(c, gin.H{"taskId": taskID})
}

// ClearQueue drops an agent's pending and in-flight work.
// POST /api/v1/tasks/queue/clear
func (h *Handler) ClearQueue(c *gin.Context) {
	var req struct {
		AgentID  string `json:"agentId" binding:"required"`
		TenantID int    `json:"tenantId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	if err := h.queue.Clear(c.Request.Context(), req.AgentID, req.TenantID); err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to clear queue", err))
		return
	}
	httpx.OK(c, gin.H{"cleared": true})
}
