package agents

import (
	"time"

	authapi "c2core/api/v1/auth"
	"c2core/internal/auth"
	"c2core/internal/blacklist"
	"c2core/internal/ca"
	"c2core/internal/config"
	"c2core/internal/dispatch"
	"c2core/internal/events"
	"c2core/internal/httpx"
	"c2core/internal/model"
	"c2core/internal/taskqueue"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Handler handles agent-related requests
type Handler struct {
	db      *gorm.DB
	facade  *dispatch.Facade
	bl      *blacklist.Service
	queue   *taskqueue.Service
	caEng   *ca.Engine
	cfg     *config.Config
}

// NewHandler creates a new agents handler
func NewHandler(db *gorm.DB, facade *dispatch.Facade, bl *blacklist.Service, queue *taskqueue.Service, caEng *ca.Engine, cfg *config.Config) *Handler {
	return &Handler{
		db:     db,
		facade: facade,
		bl:     bl,
		queue:  queue,
		caEng:  caEng,
		cfg:    cfg,
	}
}

// RegisterRequest enrolls a new agent.
type RegisterRequest struct {
	AgentID  string `json:"agentId" binding:"required"`
	TenantID int    `json:"tenantId" binding:"required"`
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
}

// Register creates the agent row and hands back a session token plus
// a client certificate bound to the session.
// POST /api/v1/agents/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	sessionID := uuid.NewString()
	expireAt := time.Now().Add(time.Duration(h.cfg.JWT.ExpireMinutes) * time.Minute)
	token, err := auth.GenerateToken(0, req.AgentID, "agent", expireAt, h.cfg.JWT.Issuer)
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to generate session token", err))
		return
	}

	// Certificate issuance is best-effort; registration must not fail
	// on a CA hiccup
	var issuer authapi.CertIssuer
	if h.caEng != nil {
		issuer = h.caEng
	}
	certInfo := authapi.IssueCertificateInfo(issuer, req.AgentID, sessionID, "agent", int(time.Until(expireAt).Seconds()))

	agent := model.Agent{
		AgentID:      req.AgentID,
		TenantID:     req.TenantID,
		Hostname:     req.Hostname,
		OS:           req.OS,
		Status:       model.AgentStatusActive,
		CertID:       certInfo.CertID,
		SessionToken: token,
	}
	if err := h.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&agent).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to save agent", err))
		return
	}

	httpx.OK(c, gin.H{
		"agentId":     agent.AgentID,
		"token":       token,
		"sessionId":   sessionID,
		"expireAt":    expireAt.Format(time.RFC3339),
		"certificate": certInfo,
	})
}

// BeaconRequest is one agent check-in.
type BeaconRequest struct {
	AgentID         string `json:"agentId" binding:"required"`
	TenantID        int    `json:"tenantId" binding:"required"`
	CertFingerprint string `json:"certFingerprint"`
}

// Beacon runs the check-in flow: revocation checks, then queue drain.
// POST /api/v1/agents/beacon
func (h *Handler) Beacon(c *gin.Context) {
	var req BeaconRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	result, err := h.facade.OnAgentCheckIn(c.Request.Context(), dispatch.CheckIn{
		AgentID:         req.AgentID,
		TenantID:        req.TenantID,
		CertFingerprint: req.CertFingerprint,
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("check-in failed", err))
		return
	}
	if !result.Accepted {
		httpx.FailErr(c, httpx.ErrAccessDenied(result.DenialReason))
		return
	}

	httpx.OK(c, result)
}

// ResultRequest is one agent-reported task outcome.
type ResultRequest struct {
	AgentID  string          `json:"agentId" binding:"required"`
	TenantID int             `json:"tenantId" binding:"required"`
	TaskID   string          `json:"taskId" binding:"required"`
	Output   map[string]any  `json:"output"`
	ExitCode int             `json:"exitCode"`
}

// Result acknowledges a task and persists its output.
// POST /api/v1/agents/results
func (h *Handler) Result(c *gin.Context) {
	var req ResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	output, err := jsonMarshal(req.Output)
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid output payload"))
		return
	}

	if err := h.facade.OnTaskResult(c.Request.Context(), dispatch.TaskResult{
		AgentID:  req.AgentID,
		TenantID: req.TenantID,
		TaskID:   req.TaskID,
		Output:   output,
		ExitCode: req.ExitCode,
	}); err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to record task result", err))
		return
	}

	events.Publish(events.TopicTasks, events.TypeTaskCompleted, gin.H{
		"taskId":  req.TaskID,
		"agentId": req.AgentID,
	})

	httpx.OK(c, gin.H{"acknowledged": true})
}

// Wait long-polls for a wake-up notification so agents can hold a
// single connection instead of hammering the beacon endpoint.
// GET /api/v1/agents/wait?agentId=...&tenantId=...&timeoutSec=25
func (h *Handler) Wait(c *gin.Context) {
	agentID := c.Query("agentId")
	if agentID == "" {
		httpx.FailErr(c, httpx.ErrParamMissing("agentId is required"))
		return
	}
	tenantID := queryInt(c, "tenantId")
	timeoutSec := queryInt(c, "timeoutSec")
	if timeoutSec <= 0 || timeoutSec > 60 {
		timeoutSec = 25
	}

	sub, err := h.queue.Subscribe(c.Request.Context(), agentID, tenantID)
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to subscribe", err))
		return
	}
	defer sub.Close()

	// The queue is the source of truth: tasks enqueued before the
	// subscription opened must not be missed
	if length, err := h.queue.QueueLength(c.Request.Context(), agentID, tenantID); err == nil && length > 0 {
		httpx.OK(c, gin.H{"wakeup": true, "pending": length})
		return
	}

	select {
	case n, ok := <-sub.Notifications():
		if !ok {
			httpx.OK(c, gin.H{"wakeup": false})
			return
		}
		httpx.OK(c, gin.H{"wakeup": true, "taskId": n.TaskID})
	case <-time.After(time.Duration(timeoutSec) * time.Second):
		httpx.OK(c, gin.H{"wakeup": false})
	case <-c.Request.Context().Done():
		httpx.OK(c, gin.H{"wakeup": false})
	}
}

// List returns the tenant's agents.
// GET /api/v1/agents?tenantId=...
func (h *Handler) List(c *gin.Context) {
	tenantID := queryInt(c, "tenantId")
	if tenantID == 0 {
		httpx.FailErr(c, httpx.ErrParamMissing("tenantId is required"))
		return
	}

	var agents []model.Agent
	if err := h.db.Where("tenant_id = ?", tenantID).Find(&agents).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list agents", err))
		return
	}
	httpx.OK(c, agents)
}

// BlacklistRequest is one operator revocation request.
type BlacklistRequest struct {
	AgentID    string `json:"agentId" binding:"required"`
	TenantID   int    `json:"tenantId" binding:"required"`
	Reason     string `json:"reason"`
	TTLSeconds int    `json:"ttlSeconds"`
	ClearQueue bool   `json:"clearQueue"`
}

// Blacklist revokes an agent's access to queued work.
// POST /api/v1/agents/blacklist
func (h *Handler) Blacklist(c *gin.Context) {
	var req BlacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	result, err := h.facade.OnOperatorBlacklistRequest(c.Request.Context(), dispatch.BlacklistRequest{
		AgentID:    req.AgentID,
		TenantID:   req.TenantID,
		Reason:     req.Reason,
		TTLSeconds: req.TTLSeconds,
		ClearQueue: req.ClearQueue,
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to blacklist agent", err))
		return
	}

	events.Publish(events.TopicAgents, events.TypeAgentBlacklisted, gin.H{
		"agentId": req.AgentID,
		"reason":  req.Reason,
	})

	httpx.OK(c, result)
}

// Unblacklist closes an agent's blacklist episode.
// POST /api/v1/agents/blacklist/remove
func (h *Handler) Unblacklist(c *gin.Context) {
	var req struct {
		AgentID  string `json:"agentId" binding:"required"`
		TenantID int    `json:"tenantId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	if err := h.bl.RemoveFromBlacklist(c.Request.Context(), req.AgentID, req.TenantID); err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to remove from blacklist", err))
		return
	}

	events.Publish(events.TopicAgents, events.TypeAgentUnblocked, gin.H{
		"agentId": req.AgentID,
	})

	httpx.OK(c, gin.H{"removed": true})
}

// BlacklistInfo returns an agent's blacklist metadata.
// GET /api/v1/agents/blacklist/info?agentId=...&tenantId=...
func (h *Handler) BlacklistInfo(c *gin.Context) {
	agentID := c.Query("agentId")
	if agentID == "" {
		httpx.FailErr(c, httpx.ErrParamMissing("agentId is required"))
		return
	}

	info, err := h.bl.Info(c.Request.Context(), agentID, queryInt(c, "tenantId"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to read blacklist info", err))
		return
	}
	if info == nil {
		httpx.OK(c, gin.H{"blacklisted": false})
		return
	}
	httpx.OK(c, gin.H{"blacklisted": true, "info": info})
}

// BlacklistList enumerates the tenant's blacklisted agents.
// GET /api/v1/agents/blacklist?tenantId=...
func (h *Handler) BlacklistList(c *gin.Context) {
	tenantID := queryInt(c, "tenantId")
	if tenantID == 0 {
		httpx.FailErr(c, httpx.ErrParamMissing("tenantId is required"))
		return
	}

	infos, err := h.bl.ListBlacklisted(c.Request.Context(), tenantID)
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to list blacklist", err))
		return
	}
	httpx.OK(c, infos)
}

// RevokeFingerprint writes a fingerprint revocation marker for agents
// carrying baked-in certificates.
// POST /api/v1/agents/fingerprint/revoke
func (h *Handler) RevokeFingerprint(c *gin.Context) {
	var req struct {
		Fingerprint string `json:"fingerprint" binding:"required"`
		TenantID    int    `json:"tenantId"`
		Reason      string `json:"reason"`
		TTLSeconds  int    `json:"ttlSeconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.bl.RevokeCertFingerprint(c.Request.Context(), req.Fingerprint, req.TenantID, req.Reason, ttl); err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to revoke fingerprint", err))
		return
	}
	httpx.OK(c, gin.H{"revoked": true})
}
