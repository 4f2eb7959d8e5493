package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"c2core/internal/blacklist"
	"c2core/internal/model"
	"c2core/internal/taskqueue"
)

// Revoker is the slice of the revocation engine the façade consults.
type Revoker interface {
	IsBlacklisted(ctx context.Context, agentID string, tenantID int) bool
	IsCertFingerprintRevoked(ctx context.Context, fingerprint string, tenantID int) bool
	Blacklist(ctx context.Context, p blacklist.Params) (*blacklist.Result, error)
}

// Queue is the slice of the work queue engine the façade consumes.
type Queue interface {
	Dequeue(ctx context.Context, agentID string, tenantID int) (*taskqueue.Task, error)
	Complete(ctx context.Context, agentID string, tenantID int, taskID string) error
	Clear(ctx context.Context, agentID string, tenantID int) error
}

// AgentStore resolves and updates durable agent state.
type AgentStore interface {
	FindAgent(agentID string, tenantID int) (*model.Agent, error)
	TouchAgent(agentID string, tenantID int, seenAt time.Time) error
	SaveResult(rec *model.TaskResult) error
	UpdateTaskStatus(taskID, status string) error
}

// Config holds the dispatch façade configuration
type Config struct {
	// FingerprintRevocation gates the check-in fingerprint check for
	// deployments using baked-in long-lived agent certificates.
	FingerprintRevocation bool
	// MaxDrainPerCheckIn caps how many tasks one check-in may drain.
	MaxDrainPerCheckIn int
}

// Facade sequences the engines on the three C2 flows. It owns no
// domain logic itself: ordering and short-circuiting live here, the
// semantics live in the engines.
type Facade struct {
	revoker Revoker
	queue   Queue
	agents  AgentStore
	cfg     Config
	logger  *logrus.Entry
}

// NewFacade creates the dispatch façade. agents may be nil when no
// durable agent store is wired.
func NewFacade(revoker Revoker, queue Queue, agents AgentStore, cfg Config, logger *logrus.Entry) *Facade {
	if cfg.MaxDrainPerCheckIn <= 0 {
		cfg.MaxDrainPerCheckIn = 100
	}
	return &Facade{
		revoker: revoker,
		queue:   queue,
		agents:  agents,
		cfg:     cfg,
		logger:  logger.WithField("component", "dispatch"),
	}
}

// Denial reasons returned to checking-in agents.
const (
	DenialBlacklisted = "blacklisted"
	DenialCertRevoked = "certificate_revoked"
)

// CheckIn is one agent beacon.
type CheckIn struct {
	AgentID         string
	TenantID        int
	CertFingerprint string
}

// CheckInResult reports the beacon outcome: either a denial with its
// reason, or the drained batch of pending tasks.
type CheckInResult struct {
	Accepted     bool             `json:"accepted"`
	DenialReason string           `json:"denialReason,omitempty"`
	Tasks        []taskqueue.Task `json:"tasks"`
}

// OnAgentCheckIn runs the beacon flow: revocation checks first, queue
// drain only for an accepted agent. A denied agent never touches the
// queue.
func (f *Facade) OnAgentCheckIn(ctx context.Context, c CheckIn) (*CheckInResult, error) {
	if c.AgentID == "" {
		return nil, fmt.Errorf("agentID is required")
	}

	if f.cfg.FingerprintRevocation && c.CertFingerprint != "" {
		if f.revoker.IsCertFingerprintRevoked(ctx, c.CertFingerprint, c.TenantID) {
			f.logger.Warnf("Check-in denied for agent %s: certificate revoked", c.AgentID)
			return &CheckInResult{DenialReason: DenialCertRevoked, Tasks: []taskqueue.Task{}}, nil
		}
	}

	if f.revoker.IsBlacklisted(ctx, c.AgentID, c.TenantID) {
		f.logger.Warnf("Check-in denied for agent %s: blacklisted", c.AgentID)
		return &CheckInResult{DenialReason: DenialBlacklisted, Tasks: []taskqueue.Task{}}, nil
	}

	if f.agents != nil {
		if err := f.agents.TouchAgent(c.AgentID, c.TenantID, time.Now()); err != nil {
			f.logger.Errorf("Failed to update last-seen for agent %s: %v", c.AgentID, err)
		}
	}

	tasks := make([]taskqueue.Task, 0)
	for len(tasks) < f.cfg.MaxDrainPerCheckIn {
		task, err := f.queue.Dequeue(ctx, c.AgentID, c.TenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to drain queue for agent %s: %w", c.AgentID, err)
		}
		if task == nil {
			break
		}
		tasks = append(tasks, *task)
	}

	return &CheckInResult{Accepted: true, Tasks: tasks}, nil
}

// TaskResult is one agent-reported execution outcome.
type TaskResult struct {
	AgentID  string
	TenantID int
	TaskID   string
	Output   []byte
	ExitCode int
}

// OnTaskResult acknowledges the in-flight task and persists the
// reported outcome.
func (f *Facade) OnTaskResult(ctx context.Context, r TaskResult) error {
	if r.TaskID == "" {
		return fmt.Errorf("taskID is required")
	}

	if err := f.queue.Complete(ctx, r.AgentID, r.TenantID, r.TaskID); err != nil {
		return err
	}

	if f.agents == nil {
		return nil
	}
	rec := &model.TaskResult{
		TaskID:   r.TaskID,
		AgentID:  r.AgentID,
		TenantID: r.TenantID,
		Output:   datatypes.JSON(r.Output),
		ExitCode: r.ExitCode,
	}
	if err := f.agents.SaveResult(rec); err != nil {
		return fmt.Errorf("failed to persist task result: %w", err)
	}
	if err := f.agents.UpdateTaskStatus(r.TaskID, model.TaskStatusCompleted); err != nil {
		f.logger.Errorf("Failed to update task %s status: %v", r.TaskID, err)
	}
	return nil
}

// BlacklistRequest is one operator-initiated revocation.
type BlacklistRequest struct {
	AgentID    string
	TenantID   int
	Reason     string
	TTLSeconds int
	// ClearQueue additionally drops the agent's pending and in-flight
	// work immediately.
	ClearQueue bool
}

// OnOperatorBlacklistRequest resolves the agent's durable credentials
// and hands the revocation to the blacklist engine, so the certificate
// cascade and token-derived TTL work even when the operator only knows
// the agent id.
func (f *Facade) OnOperatorBlacklistRequest(ctx context.Context, r BlacklistRequest) (*blacklist.Result, error) {
	params := blacklist.Params{
		AgentID:    r.AgentID,
		TenantID:   r.TenantID,
		Reason:     r.Reason,
		TTLSeconds: r.TTLSeconds,
	}

	if f.agents != nil {
		agent, err := f.agents.FindAgent(r.AgentID, r.TenantID)
		if err != nil {
			f.logger.Warnf("No durable record for agent %s, blacklisting without credentials: %v", r.AgentID, err)
		} else if agent != nil {
			params.SessionToken = agent.SessionToken
			params.CertID = agent.CertID
			params.CertFingerprint = agent.CertFingerprint
		}
	}

	result, err := f.revoker.Blacklist(ctx, params)
	if err != nil {
		return nil, err
	}

	if r.ClearQueue && !result.AlreadyExpired {
		if err := f.queue.Clear(ctx, r.AgentID, r.TenantID); err != nil {
			f.logger.Errorf("Failed to clear queue for blacklisted agent %s: %v", r.AgentID, err)
		}
	}
	return result, nil
}
