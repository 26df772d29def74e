// Package guard wraps protected tool calls in the validate, sign,
// execute, log pipeline. Validation and signing run on the caller's
// goroutine; only the audit write is handed off to the background ledger.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/client"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/identity"
	"github.com/wardenhq/warden/internal/policy"
)

// Mode controls how a denial reaches the caller.
type Mode int

const (
	// ModeGraceful reports denials in the Result instead of as an error,
	// so orchestrator loops keep running across a denied tool call.
	ModeGraceful Mode = iota
	// ModeRaise returns a PermissionDeniedError on denial.
	ModeRaise
)

// PermissionDeniedError is the raise-mode denial. Reason is safe to show
// to an end user.
type PermissionDeniedError struct {
	ToolName string
	Reason   string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("guard: %s denied: %s", e.ToolName, e.Reason)
}

// ErrApprovalTimeout means a pending approval was not decided within the
// guard's wait window.
var ErrApprovalTimeout = errors.New("guard: approval wait timed out")

// Checker is the synchronous control-plane pre-check.
type Checker interface {
	GuardCheck(ctx context.Context, req client.GuardCheckRequest) (*client.GuardCheckResponse, error)
	GetApproval(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error)
}

// Recorder accepts audit records for durable, asynchronous delivery.
type Recorder interface {
	Enqueue(ctx context.Context, rec domain.AuditRecord) error
}

// Options tune one Guard instance.
type Options struct {
	Mode Mode
	// RemoteCheck also asks the control plane before executing. Without
	// it the local policy snapshot alone decides.
	RemoteCheck bool
	// FailOpen allows execution when the control plane is unreachable
	// after retries. FailOpen=false treats unreachable as denied.
	FailOpen bool
	// ApprovalPollInterval is the cooperative wait between approval
	// status polls.
	ApprovalPollInterval time.Duration
	// ApprovalWait bounds how long a call blocks on PendingApproval.
	ApprovalWait time.Duration
}

func (o *Options) withDefaults() {
	if o.ApprovalPollInterval <= 0 {
		o.ApprovalPollInterval = 3 * time.Second
	}
	if o.ApprovalWait <= 0 {
		o.ApprovalWait = 5 * time.Minute
	}
}

// Guard is the interception boundary around an agent's tool calls.
type Guard struct {
	id      *identity.Identity
	engine  *policy.Engine
	ledger  Recorder
	checker Checker
	opts    Options
}

func New(id *identity.Identity, engine *policy.Engine, rec Recorder, checker Checker, opts Options) *Guard {
	opts.withDefaults()
	return &Guard{id: id, engine: engine, ledger: rec, checker: checker, opts: opts}
}

// Call describes one guarded tool invocation.
type Call struct {
	ToolName string
	// Amount is the monetary amount checked against max_amount caps,
	// when the call carries one.
	Amount *float64
	// Payload is signed and attached to the audit record.
	Payload map[string]any
}

// Result reports the outcome of a guarded call. In graceful mode a
// denial comes back as Denied=true with a nil error.
type Result struct {
	Value  any
	Denied bool
	Reason string
}

// Do runs one tool call through the pipeline. fn is only invoked when
// the call is allowed (and approved, when approval is required).
func (g *Guard) Do(ctx context.Context, call Call, fn func(ctx context.Context) (any, error)) (Result, error) {
	dec, err := g.engine.Evaluate(g.id.PublicKeyHex(), call.ToolName, call.Amount)
	if err != nil {
		// Strict mode with no rule: denied semantics, but the error is
		// distinguishable for callers that want to provision a policy.
		g.record(call, domain.AuditDenied, 0, nil, err.Error())
		if g.opts.Mode == ModeGraceful {
			return Result{Denied: true, Reason: "no policy covers this tool"}, nil
		}
		return Result{}, err
	}

	if dec.Status == domain.DecisionDenied {
		return g.deny(call, dec.Reason)
	}

	approvalID := dec.ApprovalID
	requiresApproval := dec.Status == domain.DecisionPendingApproval

	// One signature covers both the pre-check request and the audit
	// record, so the control plane can tie them to the same identity.
	payload := signingPayload(call)
	env, err := g.id.SignData(payload)
	if err != nil {
		// Corrupt key material is fatal and is never retried.
		g.record(call, domain.AuditError, 0, nil, err.Error())
		return Result{}, err
	}

	if g.opts.RemoteCheck && g.checker != nil {
		resp, err := g.checker.GuardCheck(ctx, client.GuardCheckRequest{
			Operation:      call.ToolName,
			AgentPublicKey: g.id.PublicKeyHex(),
			Data:           payload,
			Signature:      env.Signature,
		})
		switch {
		case err != nil:
			var te *client.TransportError
			if errors.As(err, &te) && g.opts.FailOpen {
				log.Warn().Err(err).Str("tool", call.ToolName).
					Msg("control plane unreachable, failing open")
			} else if errors.As(err, &te) {
				return g.deny(call, "control plane unreachable")
			} else {
				g.record(call, domain.AuditError, 0, nil, err.Error())
				return Result{}, err
			}
		case !resp.Allowed && !resp.RequiresApproval:
			reason := resp.Message
			if reason == "" {
				reason = "denied by policy"
			}
			return g.deny(call, reason)
		case resp.RequiresApproval:
			requiresApproval = true
			approvalID = resp.ApprovalID
		}
	}

	if requiresApproval {
		if err := g.awaitApproval(ctx, call, approvalID); err != nil {
			var pd *PermissionDeniedError
			if errors.As(err, &pd) && g.opts.Mode == ModeGraceful {
				return Result{Denied: true, Reason: pd.Reason}, nil
			}
			return Result{}, err
		}
	}

	start := time.Now()
	value, execErr := fn(ctx)
	elapsed := time.Since(start)

	if execErr != nil {
		g.record(call, domain.AuditError, elapsed, env, execErr.Error())
		return Result{}, execErr
	}

	g.record(call, domain.AuditSuccess, elapsed, env, "")
	return Result{Value: value}, nil
}

// deny logs the denial before surfacing it, in either mode.
func (g *Guard) deny(call Call, reason string) (Result, error) {
	g.record(call, domain.AuditDenied, 0, nil, reason)
	if g.opts.Mode == ModeGraceful {
		return Result{Denied: true, Reason: reason}, nil
	}
	return Result{}, &PermissionDeniedError{ToolName: call.ToolName, Reason: reason}
}

// awaitApproval polls the approval until it is decided, the wait window
// closes, or the caller cancels. Cancellation still emits an audit
// record.
func (g *Guard) awaitApproval(ctx context.Context, call Call, id *uuid.UUID) error {
	if g.checker == nil || id == nil {
		// No control plane to decide: approval-gated tools cannot run.
		g.record(call, domain.AuditDenied, 0, nil, "approval required but no approver available")
		return &PermissionDeniedError{ToolName: call.ToolName, Reason: "approval required"}
	}

	g.record(call, domain.AuditPending, 0, nil, "awaiting approval")

	waitCtx, cancel := context.WithTimeout(ctx, g.opts.ApprovalWait)
	defer cancel()

	ticker := time.NewTicker(g.opts.ApprovalPollInterval)
	defer ticker.Stop()

	for {
		ar, err := g.checker.GetApproval(waitCtx, *id)
		if err == nil {
			switch ar.Status {
			case domain.ApprovalApproved:
				return nil
			case domain.ApprovalRejected:
				g.record(call, domain.AuditDenied, 0, nil, "approval rejected")
				return &PermissionDeniedError{ToolName: call.ToolName, Reason: "approval rejected"}
			case domain.ApprovalExpired:
				g.record(call, domain.AuditDenied, 0, nil, "approval expired")
				return &PermissionDeniedError{ToolName: call.ToolName, Reason: "approval expired"}
			}
		} else if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Err(err).Str("tool", call.ToolName).Msg("approval poll failed")
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				g.record(call, domain.AuditError, 0, nil, "cancelled")
				return ctx.Err()
			}
			g.record(call, domain.AuditDenied, 0, nil, "approval wait timed out")
			return ErrApprovalTimeout
		case <-ticker.C:
		}
	}
}

func signingPayload(call Call) map[string]any {
	payload := map[string]any{"tool_name": call.ToolName}
	if call.Amount != nil {
		payload["amount"] = *call.Amount
	}
	for k, v := range call.Payload {
		payload[k] = v
	}
	return payload
}

// record enqueues one audit entry. Ledger failures are logged, never
// surfaced: losing an audit write must not fail the caller's operation.
func (g *Guard) record(call Call, status domain.AuditStatus, elapsed time.Duration, env *identity.Envelope, errMsg string) {
	rec := domain.AuditRecord{
		ID:           uuid.New(),
		ToolName:     call.ToolName,
		Status:       status,
		Amount:       call.Amount,
		DurationMS:   elapsed.Milliseconds(),
		PublicKey:    g.id.PublicKeyHex(),
		ErrorMessage: errMsg,
		Payload:      call.Payload,
		Timestamp:    time.Now().UTC(),
	}
	if env != nil {
		rec.Signature = env.Signature
	}

	// Enqueue appends to the WAL synchronously; only delivery is async.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.ledger.Enqueue(ctx, rec); err != nil {
		log.Error().Err(err).Str("tool", call.ToolName).Msg("audit enqueue failed")
	}
}
