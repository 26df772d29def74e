package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

var (
	ErrInvalidTransition = errors.New("domain: invalid approval transition")
	ErrAlreadyDecided    = errors.New("domain: approval already decided")
	ErrSelfApproval      = errors.New("domain: requester cannot decide their own request")
)

// DefaultApprovalTTL is how long an undecided request stays actionable.
const DefaultApprovalTTL = 24 * time.Hour

// ApprovalRequest is one item in the human-in-the-loop queue. Requests are
// created when policy evaluation returns requires_approval and transition
// exactly once: pending → approved | rejected | expired.
type ApprovalRequest struct {
	ID          uuid.UUID      `json:"id"`
	OrgID       uuid.UUID      `json:"-"`
	AgentID     uuid.UUID      `json:"agent_id"`
	ToolName    string         `json:"tool_name"`
	RequestData map[string]any `json:"request_data,omitempty"`
	Status      ApprovalStatus `json:"status"`
	DecidedBy   *uuid.UUID     `json:"decided_by,omitempty"`
	Reason      string         `json:"reason,omitempty"` // rejection reason
	ExpiresAt   time.Time      `json:"expires_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CanTransitionTo enforces the state machine: only pending requests move,
// and never back to pending.
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != ApprovalPending {
		return ErrAlreadyDecided
	}
	if next == ApprovalPending {
		return ErrInvalidTransition
	}
	return nil
}

// Expired reports whether the request has outlived its window without a
// decision. Expired requests behave as denied for the waiting guard.
func (a *ApprovalRequest) Expired(now time.Time) bool {
	return a.Status == ApprovalPending && now.After(a.ExpiresAt)
}

type ApprovalRepository interface {
	Create(ctx context.Context, req *ApprovalRequest) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*ApprovalRequest, error)
	// Decide transitions pending → status atomically; ErrAlreadyDecided if
	// the row is no longer pending.
	Decide(ctx context.Context, orgID, id uuid.UUID, status ApprovalStatus, decidedBy uuid.UUID, reason string) error
	ListPending(ctx context.Context, orgID uuid.UUID) ([]*ApprovalRequest, error)
	// ExpireOverdue marks pending rows past their deadline as expired across
	// all orgs (background job) and returns how many were flipped.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}
