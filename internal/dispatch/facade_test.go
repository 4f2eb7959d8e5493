package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"c2core/internal/blacklist"
	"c2core/internal/model"
	"c2core/internal/taskqueue"
)

type fakeRevoker struct {
	blacklisted  map[string]bool
	revokedFps   map[string]bool
	requests     []blacklist.Params
	blacklistErr error
}

func newFakeRevoker() *fakeRevoker {
	return &fakeRevoker{
		blacklisted: make(map[string]bool),
		revokedFps:  make(map[string]bool),
	}
}

func (r *fakeRevoker) IsBlacklisted(ctx context.Context, agentID string, tenantID int) bool {
	return r.blacklisted[agentID]
}

func (r *fakeRevoker) IsCertFingerprintRevoked(ctx context.Context, fingerprint string, tenantID int) bool {
	return r.revokedFps[fingerprint]
}

func (r *fakeRevoker) Blacklist(ctx context.Context, p blacklist.Params) (*blacklist.Result, error) {
	if r.blacklistErr != nil {
		return nil, r.blacklistErr
	}
	r.requests = append(r.requests, p)
	r.blacklisted[p.AgentID] = true
	return &blacklist.Result{TTL: time.Hour, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakeQueue struct {
	tasks    []taskqueue.Task
	dequeues int
	cleared  bool
	done     []string
}

func (q *fakeQueue) Dequeue(ctx context.Context, agentID string, tenantID int) (*taskqueue.Task, error) {
	q.dequeues++
	if len(q.tasks) == 0 {
		return nil, nil
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return &task, nil
}

func (q *fakeQueue) Complete(ctx context.Context, agentID string, tenantID int, taskID string) error {
	q.done = append(q.done, taskID)
	return nil
}

func (q *fakeQueue) Clear(ctx context.Context, agentID string, tenantID int) error {
	q.cleared = true
	q.tasks = nil
	return nil
}

type fakeAgentStore struct {
	agents  map[string]*model.Agent
	touched bool
	results []*model.TaskResult
	status  map[string]string
}

func newFakeAgentStore() *fakeAgentStore {
	return &fakeAgentStore{
		agents: make(map[string]*model.Agent),
		status: make(map[string]string),
	}
}

func (s *fakeAgentStore) FindAgent(agentID string, tenantID int) (*model.Agent, error) {
	return s.agents[agentID], nil
}

func (s *fakeAgentStore) TouchAgent(agentID string, tenantID int, seenAt time.Time) error {
	s.touched = true
	return nil
}

func (s *fakeAgentStore) SaveResult(rec *model.TaskResult) error {
	s.results = append(s.results, rec)
	return nil
}

func (s *fakeAgentStore) UpdateTaskStatus(taskID, status string) error {
	s.status[taskID] = status
	return nil
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(logger)
}

func newTestFacade(r Revoker, q Queue, a AgentStore, cfg Config) *Facade {
	return NewFacade(r, q, a, cfg, testLogger())
}

func TestCheckIn_DrainsQueue(t *testing.T) {
	queue := &fakeQueue{tasks: []taskqueue.Task{
		{ID: "t1", Cmd: "whoami"},
		{ID: "t2", Cmd: "hostname"},
	}}
	store := newFakeAgentStore()
	facade := newTestFacade(newFakeRevoker(), queue, store, Config{})

	result, err := facade.OnAgentCheckIn(context.Background(), CheckIn{AgentID: "agent-7", TenantID: 1})
	if err != nil {
		t.Fatalf("OnAgentCheckIn() failed: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("Expected accepted check-in, got denial: %s", result.DenialReason)
	}
	if len(result.Tasks) != 2 || result.Tasks[0].ID != "t1" || result.Tasks[1].ID != "t2" {
		t.Errorf("Expected tasks t1,t2 in order, got %+v", result.Tasks)
	}
	if !store.touched {
		t.Error("Expected last-seen update on accepted check-in")
	}
}

func TestCheckIn_BlacklistedAgentGetsNoDrain(t *testing.T) {
	revoker := newFakeRevoker()
	revoker.blacklisted["agent-7"] = true
	queue := &fakeQueue{tasks: []taskqueue.Task{{ID: "t1", Cmd: "whoami"}}}
	facade := newTestFacade(revoker, queue, nil, Config{})

	result, err := facade.OnAgentCheckIn(context.Background(), CheckIn{AgentID: "agent-7", TenantID: 1})
	if err != nil {
		t.Fatalf("OnAgentCheckIn() failed: %v", err)
	}
	if result.Accepted {
		t.Fatal("Expected denial for blacklisted agent")
	}
	if result.DenialReason != DenialBlacklisted {
		t.Errorf("Expected denial reason %q, got %q", DenialBlacklisted, result.DenialReason)
	}
	if queue.dequeues != 0 {
		t.Errorf("A denied agent must never touch the queue, saw %d dequeues", queue.dequeues)
	}
	if len(result.Tasks) != 0 {
		t.Errorf("Expected no tasks for denied agent, got %d", len(result.Tasks))
	}
}

func TestCheckIn_RevokedFingerprint(t *testing.T) {
	revoker := newFakeRevoker()
	revoker.revokedFps["deadbeef"] = true
	queue := &fakeQueue{}

	gated := newTestFacade(revoker, queue, nil, Config{FingerprintRevocation: true})
	result, err := gated.OnAgentCheckIn(context.Background(), CheckIn{
		AgentID: "agent-7", TenantID: 1, CertFingerprint: "deadbeef",
	})
	if err != nil {
		t.Fatalf("OnAgentCheckIn() failed: %v", err)
	}
	if result.Accepted || result.DenialReason != DenialCertRevoked {
		t.Errorf("Expected certificate denial, got %+v", result)
	}

	// With the gate off the fingerprint is not consulted
	ungated := newTestFacade(revoker, queue, nil, Config{})
	result, err = ungated.OnAgentCheckIn(context.Background(), CheckIn{
		AgentID: "agent-7", TenantID: 1, CertFingerprint: "deadbeef",
	})
	if err != nil {
		t.Fatalf("OnAgentCheckIn() failed: %v", err)
	}
	if !result.Accepted {
		t.Errorf("Expected accepted check-in with fingerprint gate off, got %+v", result)
	}
}

func TestCheckIn_DrainCap(t *testing.T) {
	queue := &fakeQueue{}
	for i := 0; i < 10; i++ {
		queue.tasks = append(queue.tasks, taskqueue.Task{ID: "t", Cmd: "whoami"})
	}
	facade := newTestFacade(newFakeRevoker(), queue, nil, Config{MaxDrainPerCheckIn: 3})

	result, err := facade.OnAgentCheckIn(context.Background(), CheckIn{AgentID: "agent-7", TenantID: 1})
	if err != nil {
		t.Fatalf("OnAgentCheckIn() failed: %v", err)
	}
	if len(result.Tasks) != 3 {
		t.Errorf("Expected drain capped at 3, got %d", len(result.Tasks))
	}
}

func TestTaskResult(t *testing.T) {
	queue := &fakeQueue{}
	store := newFakeAgentStore()
	facade := newTestFacade(newFakeRevoker(), queue, store, Config{})

	err := facade.OnTaskResult(context.Background(), TaskResult{
		AgentID: "agent-7", TenantID: 1, TaskID: "t1",
		Output: []byte(`{"stdout":"root"}`), ExitCode: 0,
	})
	if err != nil {
		t.Fatalf("OnTaskResult() failed: %v", err)
	}

	if len(queue.done) != 1 || queue.done[0] != "t1" {
		t.Errorf("Expected completion of t1, got %v", queue.done)
	}
	if len(store.results) != 1 || store.results[0].TaskID != "t1" {
		t.Errorf("Expected one persisted result for t1, got %+v", store.results)
	}
	if store.status["t1"] != model.TaskStatusCompleted {
		t.Errorf("Expected task t1 marked completed, got %q", store.status["t1"])
	}
}

func TestOperatorBlacklist_ResolvesCredentials(t *testing.T) {
	revoker := newFakeRevoker()
	queue := &fakeQueue{tasks: []taskqueue.Task{{ID: "t1", Cmd: "whoami"}}}
	store := newFakeAgentStore()
	store.agents["agent-7"] = &model.Agent{
		AgentID:         "agent-7",
		TenantID:        1,
		CertID:          "c-1",
		CertFingerprint: "deadbeef",
		SessionToken:    "tok",
	}
	facade := newTestFacade(revoker, queue, store, Config{})

	result, err := facade.OnOperatorBlacklistRequest(context.Background(), BlacklistRequest{
		AgentID: "agent-7", TenantID: 1, Reason: "compromised", ClearQueue: true,
	})
	if err != nil {
		t.Fatalf("OnOperatorBlacklistRequest() failed: %v", err)
	}
	if result.AlreadyExpired {
		t.Error("Unexpected alreadyExpired result")
	}

	if len(revoker.requests) != 1 {
		t.Fatalf("Expected one blacklist call, got %d", len(revoker.requests))
	}
	req := revoker.requests[0]
	if req.CertID != "c-1" || req.CertFingerprint != "deadbeef" || req.SessionToken != "tok" {
		t.Errorf("Expected durable credentials resolved into the request, got %+v", req)
	}
	if !queue.cleared {
		t.Error("Expected queue cleared alongside blacklisting")
	}

	// Subsequent check-in is denied
	checkIn, err := facade.OnAgentCheckIn(context.Background(), CheckIn{AgentID: "agent-7", TenantID: 1})
	if err != nil {
		t.Fatalf("OnAgentCheckIn() failed: %v", err)
	}
	if checkIn.Accepted {
		t.Error("Expected denial after operator blacklist")
	}
}

func TestOperatorBlacklist_UnknownAgent(t *testing.T) {
	revoker := newFakeRevoker()
	facade := newTestFacade(revoker, &fakeQueue{}, newFakeAgentStore(), Config{})

	if _, err := facade.OnOperatorBlacklistRequest(context.Background(), BlacklistRequest{
		AgentID: "ghost", TenantID: 1, Reason: "sweep",
	}); err != nil {
		t.Fatalf("OnOperatorBlacklistRequest() failed: %v", err)
	}

	if len(revoker.requests) != 1 {
		t.Fatalf("Expected one blacklist call, got %d", len(revoker.requests))
	}
	if revoker.requests[0].CertID != "" {
		t.Errorf("Expected no credentials for unknown agent, got %+v", revoker.requests[0])
	}
}
