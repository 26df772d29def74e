package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/client"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/identity"
	"github.com/wardenhq/warden/internal/policy"
)

func fptr(v float64) *float64 { return &v }

type captureLedger struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (l *captureLedger) Enqueue(_ context.Context, rec domain.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *captureLedger) last(t *testing.T) domain.AuditRecord {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.records)
	return l.records[len(l.records)-1]
}

func (l *captureLedger) statuses() []domain.AuditStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.AuditStatus, len(l.records))
	for i, r := range l.records {
		out[i] = r.Status
	}
	return out
}

type fakeChecker struct {
	checkFn    func(req client.GuardCheckRequest) (*client.GuardCheckResponse, error)
	approvalFn func(id uuid.UUID) (*domain.ApprovalRequest, error)
}

func (f *fakeChecker) GuardCheck(_ context.Context, req client.GuardCheckRequest) (*client.GuardCheckResponse, error) {
	return f.checkFn(req)
}

func (f *fakeChecker) GetApproval(_ context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	return f.approvalFn(id)
}

func newGuard(t *testing.T, rules policy.Set, ledger Recorder, checker Checker, opts Options) *Guard {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	store := policy.NewStore()
	store.Replace(rules)
	return New(id, policy.NewEngine(store, false), ledger, checker, opts)
}

func globalRules(rules ...policy.Rule) policy.Set {
	set := make(policy.Set)
	for _, r := range rules {
		set[policy.Key(policy.GlobalScope, r.ToolName)] = r
	}
	return set
}

func TestDoAllowedExecutesAndLogs(t *testing.T) {
	t.Parallel()

	ledger := &captureLedger{}
	g := newGuard(t, globalRules(policy.Rule{ToolName: "transfer", Allowed: true, MaxAmount: fptr(500)}), ledger, nil, Options{})

	res, err := g.Do(context.Background(), Call{ToolName: "transfer", Amount: fptr(500)},
		func(context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.False(t, res.Denied)
	assert.Equal(t, "ok", res.Value)

	rec := ledger.last(t)
	assert.Equal(t, domain.AuditSuccess, rec.Status)
	assert.NotEmpty(t, rec.Signature, "successful calls carry a signature")
	assert.NotEmpty(t, rec.PublicKey)
}

func TestDoDeniedGraceful(t *testing.T) {
	t.Parallel()

	ledger := &captureLedger{}
	g := newGuard(t, globalRules(policy.Rule{ToolName: "transfer", Allowed: true, MaxAmount: fptr(500)}), ledger, nil, Options{Mode: ModeGraceful})

	executed := false
	res, err := g.Do(context.Background(), Call{ToolName: "transfer", Amount: fptr(501)},
		func(context.Context) (any, error) { executed = true; return nil, nil })
	require.NoError(t, err, "graceful mode reports denial without an error")
	assert.True(t, res.Denied)
	assert.Contains(t, res.Reason, "exceeds maximum")
	assert.False(t, executed)

	rec := ledger.last(t)
	assert.Equal(t, domain.AuditDenied, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "exceeds maximum")
}

func TestDoDeniedRaise(t *testing.T) {
	t.Parallel()

	ledger := &captureLedger{}
	g := newGuard(t, globalRules(policy.Rule{ToolName: "delete_db", Allowed: false}), ledger, nil, Options{Mode: ModeRaise})

	_, err := g.Do(context.Background(), Call{ToolName: "delete_db"},
		func(context.Context) (any, error) { return nil, nil })

	var pd *PermissionDeniedError
	require.ErrorAs(t, err, &pd)
	assert.Equal(t, "delete_db", pd.ToolName)

	// Denial was logged before surfacing.
	assert.Equal(t, domain.AuditDenied, ledger.last(t).Status)
}

func TestDoUnlistedToolDefaultAllows(t *testing.T) {
	t.Parallel()

	ledger := &captureLedger{}
	g := newGuard(t, globalRules(), ledger, nil, Options{})

	res, err := g.Do(context.Background(), Call{ToolName: "search"},
		func(context.Context) (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, domain.AuditSuccess, ledger.last(t).Status)
}

func TestDoExecutionErrorIsLogged(t *testing.T) {
	t.Parallel()

	ledger := &captureLedger{}
	g := newGuard(t, globalRules(), ledger, nil, Options{})

	boom := errors.New("upstream exploded")
	_, err := g.Do(context.Background(), Call{ToolName: "search"},
		func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	rec := ledger.last(t)
	assert.Equal(t, domain.AuditError, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "upstream exploded")
}

func TestDoApprovalFlow(t *testing.T) {
	t.Parallel()

	approvalID := uuid.New()
	var polls int
	var mu sync.Mutex

	checker := &fakeChecker{
		checkFn: func(client.GuardCheckRequest) (*client.GuardCheckResponse, error) {
			return &client.GuardCheckResponse{Allowed: false, RequiresApproval: true, ApprovalID: &approvalID}, nil
		},
		approvalFn: func(id uuid.UUID) (*domain.ApprovalRequest, error) {
			mu.Lock()
			defer mu.Unlock()
			polls++
			status := domain.ApprovalPending
			if polls >= 2 {
				status = domain.ApprovalApproved
			}
			return &domain.ApprovalRequest{ID: id, Status: status}, nil
		},
	}

	ledger := &captureLedger{}
	g := newGuard(t, globalRules(policy.Rule{ToolName: "payout", Allowed: true, RequiresApproval: true}), ledger, checker,
		Options{RemoteCheck: true, ApprovalPollInterval: 10 * time.Millisecond, ApprovalWait: 5 * time.Second})

	res, err := g.Do(context.Background(), Call{ToolName: "payout", Amount: fptr(100)},
		func(context.Context) (any, error) { return "paid", nil })
	require.NoError(t, err)
	assert.Equal(t, "paid", res.Value)

	statuses := ledger.statuses()
	assert.Contains(t, statuses, domain.AuditPending)
	assert.Equal(t, domain.AuditSuccess, statuses[len(statuses)-1])
}

func TestDoApprovalRejected(t *testing.T) {
	t.Parallel()

	approvalID := uuid.New()
	checker := &fakeChecker{
		checkFn: func(client.GuardCheckRequest) (*client.GuardCheckResponse, error) {
			return &client.GuardCheckResponse{RequiresApproval: true, ApprovalID: &approvalID}, nil
		},
		approvalFn: func(id uuid.UUID) (*domain.ApprovalRequest, error) {
			return &domain.ApprovalRequest{ID: id, Status: domain.ApprovalRejected}, nil
		},
	}

	ledger := &captureLedger{}
	g := newGuard(t, globalRules(), ledger, checker,
		Options{Mode: ModeGraceful, RemoteCheck: true, ApprovalPollInterval: 10 * time.Millisecond})

	res, err := g.Do(context.Background(), Call{ToolName: "payout"},
		func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Contains(t, res.Reason, "rejected")
}

func TestDoApprovalCancelledEmitsErrorRecord(t *testing.T) {
	t.Parallel()

	approvalID := uuid.New()
	checker := &fakeChecker{
		checkFn: func(client.GuardCheckRequest) (*client.GuardCheckResponse, error) {
			return &client.GuardCheckResponse{RequiresApproval: true, ApprovalID: &approvalID}, nil
		},
		approvalFn: func(id uuid.UUID) (*domain.ApprovalRequest, error) {
			return &domain.ApprovalRequest{ID: id, Status: domain.ApprovalPending}, nil
		},
	}

	ledger := &captureLedger{}
	g := newGuard(t, globalRules(), ledger, checker,
		Options{RemoteCheck: true, ApprovalPollInterval: 10 * time.Millisecond, ApprovalWait: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := g.Do(ctx, Call{ToolName: "payout"},
		func(context.Context) (any, error) { return nil, nil })
	require.ErrorIs(t, err, context.Canceled)

	rec := ledger.last(t)
	assert.Equal(t, domain.AuditError, rec.Status)
	assert.Equal(t, "cancelled", rec.ErrorMessage)
}

func TestDoRemoteCheckFailOpenVsClosed(t *testing.T) {
	t.Parallel()

	down := &fakeChecker{
		checkFn: func(client.GuardCheckRequest) (*client.GuardCheckResponse, error) {
			return nil, &client.TransportError{Op: "GuardCheck", Err: errors.New("dial refused")}
		},
	}

	t.Run("fail_open_executes", func(t *testing.T) {
		t.Parallel()
		ledger := &captureLedger{}
		g := newGuard(t, globalRules(), ledger, down, Options{RemoteCheck: true, FailOpen: true})

		res, err := g.Do(context.Background(), Call{ToolName: "search"},
			func(context.Context) (any, error) { return "found", nil })
		require.NoError(t, err)
		assert.Equal(t, "found", res.Value)
	})

	t.Run("fail_closed_denies", func(t *testing.T) {
		t.Parallel()
		ledger := &captureLedger{}
		g := newGuard(t, globalRules(), ledger, down, Options{Mode: ModeGraceful, RemoteCheck: true, FailOpen: false})

		res, err := g.Do(context.Background(), Call{ToolName: "search"},
			func(context.Context) (any, error) { return nil, nil })
		require.NoError(t, err)
		assert.True(t, res.Denied)
		assert.Contains(t, res.Reason, "unreachable")
		assert.Equal(t, domain.AuditDenied, ledger.last(t).Status)
	})
}

func TestDoApprovalWithoutCheckerDenies(t *testing.T) {
	t.Parallel()

	ledger := &captureLedger{}
	g := newGuard(t, globalRules(policy.Rule{ToolName: "payout", Allowed: true, RequiresApproval: true}), ledger, nil,
		Options{Mode: ModeGraceful})

	res, err := g.Do(context.Background(), Call{ToolName: "payout"},
		func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Equal(t, domain.AuditDenied, ledger.last(t).Status)
}

func TestDoRemoteCheckCarriesVerifiableSignature(t *testing.T) {
	t.Parallel()

	var got client.GuardCheckRequest
	checker := &fakeChecker{
		checkFn: func(req client.GuardCheckRequest) (*client.GuardCheckResponse, error) {
			got = req
			return &client.GuardCheckResponse{Allowed: true}, nil
		},
	}

	ledger := &captureLedger{}
	g := newGuard(t, globalRules(), ledger, checker, Options{RemoteCheck: true})

	_, err := g.Do(context.Background(), Call{ToolName: "search", Payload: map[string]any{"q": "refunds"}},
		func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	require.NotEmpty(t, got.Signature)
	assert.Equal(t, "search", got.Data["tool_name"])
	canon, err := identity.CanonicalJSON(got.Data)
	require.NoError(t, err)
	assert.True(t, identity.Verify(got.AgentPublicKey, canon, got.Signature))

	// The audit record reuses the same signature.
	assert.Equal(t, got.Signature, ledger.last(t).Signature)
}
