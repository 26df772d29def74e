package v1_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers: inject org/user/role the way the auth middleware does
// ---------------------------------------------------------------------------

func orgCtx(orgID uuid.UUID) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, middleware.ContextKeyOrgID, orgID)
	ctx = context.WithValue(ctx, middleware.ContextKeyUserRole, "agent")
	return ctx
}

func operatorCtx(orgID, userID uuid.UUID) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, middleware.ContextKeyOrgID, orgID)
	ctx = context.WithValue(ctx, middleware.ContextKeyUserID, userID)
	ctx = context.WithValue(ctx, middleware.ContextKeyUserRole, "owner")
	return ctx
}

// parseErrorBody decodes the RFC 9457 problem detail from the response body.
func parseErrorBody(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	orgs      domain.OrganizationRepository
	users     domain.UserRepository
	agents    domain.AgentRepository
	policies  domain.PolicyRepository
	audit     domain.AuditRepository
	approvals domain.ApprovalRepository
}

func (m *mockDataStore) Orgs() domain.OrganizationRepository { return m.orgs }
func (m *mockDataStore) Users() domain.UserRepository        { return m.users }
func (m *mockDataStore) Agents() domain.AgentRepository      { return m.agents }
func (m *mockDataStore) Policies() domain.PolicyRepository   { return m.policies }
func (m *mockDataStore) Audit() domain.AuditRepository       { return m.audit }
func (m *mockDataStore) Approvals() domain.ApprovalRepository {
	return m.approvals
}

// ---------------------------------------------------------------------------
// Mock AgentRepository
// ---------------------------------------------------------------------------

type mockAgentRepo struct {
	createFunc          func(ctx context.Context, a *domain.Agent) error
	getByIDFunc         func(ctx context.Context, orgID, id uuid.UUID) (*domain.Agent, error)
	getByPublicKeyFunc  func(ctx context.Context, orgID uuid.UUID, publicKey string) (*domain.Agent, error)
	findByPublicKeyFunc func(ctx context.Context, publicKey string) (*domain.Agent, error)
	listFunc            func(ctx context.Context, orgID uuid.UUID) ([]*domain.Agent, error)
	touchLastSeenFunc   func(ctx context.Context, id uuid.UUID) error
	deleteFunc          func(ctx context.Context, orgID, id uuid.UUID) error
}

func (m *mockAgentRepo) Create(ctx context.Context, a *domain.Agent) error {
	return m.createFunc(ctx, a)
}

func (m *mockAgentRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*domain.Agent, error) {
	return m.getByIDFunc(ctx, orgID, id)
}

func (m *mockAgentRepo) GetByPublicKey(ctx context.Context, orgID uuid.UUID, publicKey string) (*domain.Agent, error) {
	return m.getByPublicKeyFunc(ctx, orgID, publicKey)
}

func (m *mockAgentRepo) FindByPublicKey(ctx context.Context, publicKey string) (*domain.Agent, error) {
	return m.findByPublicKeyFunc(ctx, publicKey)
}

func (m *mockAgentRepo) List(ctx context.Context, orgID uuid.UUID) ([]*domain.Agent, error) {
	return m.listFunc(ctx, orgID)
}

func (m *mockAgentRepo) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	if m.touchLastSeenFunc == nil {
		return nil
	}
	return m.touchLastSeenFunc(ctx, id)
}

func (m *mockAgentRepo) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	return m.deleteFunc(ctx, orgID, id)
}

// ---------------------------------------------------------------------------
// Mock PolicyRepository
// ---------------------------------------------------------------------------

type mockPolicyRepo struct {
	upsertFunc        func(ctx context.Context, p *domain.Policy) error
	getByIDFunc       func(ctx context.Context, orgID, id uuid.UUID) (*domain.Policy, error)
	resolveFunc       func(ctx context.Context, orgID uuid.UUID, agentID *uuid.UUID, toolName string) (*domain.Policy, error)
	listForAgentFunc  func(ctx context.Context, orgID, agentID uuid.UUID) ([]*domain.Policy, error)
	listFunc          func(ctx context.Context, orgID uuid.UUID, agentID *uuid.UUID) ([]*domain.Policy, error)
	deleteFunc        func(ctx context.Context, orgID, id uuid.UUID) error
	deleteByAgentFunc func(ctx context.Context, orgID, agentID uuid.UUID) error
}

func (m *mockPolicyRepo) Upsert(ctx context.Context, p *domain.Policy) error {
	return m.upsertFunc(ctx, p)
}

func (m *mockPolicyRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*domain.Policy, error) {
	return m.getByIDFunc(ctx, orgID, id)
}

func (m *mockPolicyRepo) Resolve(ctx context.Context, orgID uuid.UUID, agentID *uuid.UUID, toolName string) (*domain.Policy, error) {
	return m.resolveFunc(ctx, orgID, agentID, toolName)
}

func (m *mockPolicyRepo) ListForAgent(ctx context.Context, orgID, agentID uuid.UUID) ([]*domain.Policy, error) {
	return m.listForAgentFunc(ctx, orgID, agentID)
}

func (m *mockPolicyRepo) List(ctx context.Context, orgID uuid.UUID, agentID *uuid.UUID) ([]*domain.Policy, error) {
	return m.listFunc(ctx, orgID, agentID)
}

func (m *mockPolicyRepo) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	return m.deleteFunc(ctx, orgID, id)
}

func (m *mockPolicyRepo) DeleteByAgent(ctx context.Context, orgID, agentID uuid.UUID) error {
	if m.deleteByAgentFunc == nil {
		return nil
	}
	return m.deleteByAgentFunc(ctx, orgID, agentID)
}

// ---------------------------------------------------------------------------
// Mock AuditRepository
// ---------------------------------------------------------------------------

type mockAuditRepo struct {
	insertBatchFunc     func(ctx context.Context, orgID uuid.UUID, records []*domain.AuditRecord) (int, error)
	listFunc            func(ctx context.Context, orgID uuid.UUID, filter domain.AuditFilter) ([]*domain.AuditRecord, error)
	activitySummaryFunc func(ctx context.Context, orgID uuid.UUID) ([]*domain.AgentActivity, error)
}

func (m *mockAuditRepo) InsertBatch(ctx context.Context, orgID uuid.UUID, records []*domain.AuditRecord) (int, error) {
	return m.insertBatchFunc(ctx, orgID, records)
}

func (m *mockAuditRepo) List(ctx context.Context, orgID uuid.UUID, filter domain.AuditFilter) ([]*domain.AuditRecord, error) {
	return m.listFunc(ctx, orgID, filter)
}

func (m *mockAuditRepo) ActivitySummary(ctx context.Context, orgID uuid.UUID) ([]*domain.AgentActivity, error) {
	return m.activitySummaryFunc(ctx, orgID)
}

// ---------------------------------------------------------------------------
// Mock ApprovalRepository
// ---------------------------------------------------------------------------

type mockApprovalRepo struct {
	createFunc        func(ctx context.Context, req *domain.ApprovalRequest) error
	getByIDFunc       func(ctx context.Context, orgID, id uuid.UUID) (*domain.ApprovalRequest, error)
	decideFunc        func(ctx context.Context, orgID, id uuid.UUID, status domain.ApprovalStatus, decidedBy uuid.UUID, reason string) error
	listPendingFunc   func(ctx context.Context, orgID uuid.UUID) ([]*domain.ApprovalRequest, error)
	expireOverdueFunc func(ctx context.Context, now time.Time) (int64, error)
}

func (m *mockApprovalRepo) Create(ctx context.Context, req *domain.ApprovalRequest) error {
	return m.createFunc(ctx, req)
}

func (m *mockApprovalRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*domain.ApprovalRequest, error) {
	return m.getByIDFunc(ctx, orgID, id)
}

func (m *mockApprovalRepo) Decide(ctx context.Context, orgID, id uuid.UUID, status domain.ApprovalStatus, decidedBy uuid.UUID, reason string) error {
	return m.decideFunc(ctx, orgID, id, status, decidedBy, reason)
}

func (m *mockApprovalRepo) ListPending(ctx context.Context, orgID uuid.UUID) ([]*domain.ApprovalRequest, error) {
	return m.listPendingFunc(ctx, orgID)
}

func (m *mockApprovalRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	return m.expireOverdueFunc(ctx, now)
}

// ---------------------------------------------------------------------------
// Mock AuthService
// ---------------------------------------------------------------------------

type mockAuthService struct {
	signupFunc  func(ctx context.Context, orgName, email, password string) (*domain.Organization, *domain.User, string, error)
	loginFunc   func(ctx context.Context, email, password string) (string, *domain.User, error)
	getUserFunc func(ctx context.Context, orgID, userID uuid.UUID) (*domain.User, error)
}

func (m *mockAuthService) Signup(ctx context.Context, orgName, email, password string) (*domain.Organization, *domain.User, string, error) {
	return m.signupFunc(ctx, orgName, email, password)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	return m.loginFunc(ctx, email, password)
}

func (m *mockAuthService) GetUser(ctx context.Context, orgID, userID uuid.UUID) (*domain.User, error) {
	return m.getUserFunc(ctx, orgID, userID)
}

// ---------------------------------------------------------------------------
// Capture Publisher / Notifier
// ---------------------------------------------------------------------------

type capturePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (p *capturePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *capturePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.channels...)
}

type captureNotifier struct {
	mu       sync.Mutex
	requests []*domain.ApprovalRequest
}

func (n *captureNotifier) ApprovalRequested(_ context.Context, _ string, req *domain.ApprovalRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	return nil
}
