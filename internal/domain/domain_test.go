package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/domain"
)

func TestApprovalTransitions(t *testing.T) {
	t.Parallel()

	t.Run("pending_can_move_to_terminal_states", func(t *testing.T) {
		t.Parallel()
		for _, next := range []domain.ApprovalStatus{
			domain.ApprovalApproved,
			domain.ApprovalRejected,
			domain.ApprovalExpired,
		} {
			req := &domain.ApprovalRequest{Status: domain.ApprovalPending}
			assert.NoError(t, req.CanTransitionTo(next), "pending -> %s", next)
		}
	})

	t.Run("pending_cannot_stay_pending", func(t *testing.T) {
		t.Parallel()
		req := &domain.ApprovalRequest{Status: domain.ApprovalPending}
		err := req.CanTransitionTo(domain.ApprovalPending)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("decided_requests_are_frozen", func(t *testing.T) {
		t.Parallel()
		for _, from := range []domain.ApprovalStatus{
			domain.ApprovalApproved,
			domain.ApprovalRejected,
			domain.ApprovalExpired,
		} {
			req := &domain.ApprovalRequest{Status: from}
			err := req.CanTransitionTo(domain.ApprovalApproved)
			assert.ErrorIs(t, err, domain.ErrAlreadyDecided, "from %s", from)
		}
	})
}

func TestApprovalExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()

	req := &domain.ApprovalRequest{
		Status:    domain.ApprovalPending,
		ExpiresAt: now.Add(-time.Minute),
	}
	assert.True(t, req.Expired(now))

	req.ExpiresAt = now.Add(time.Minute)
	assert.False(t, req.Expired(now))

	// A decided request never reports expired, even past the deadline.
	req.Status = domain.ApprovalApproved
	req.ExpiresAt = now.Add(-time.Hour)
	assert.False(t, req.Expired(now))
}

func TestDecisionAllowed(t *testing.T) {
	t.Parallel()

	assert.True(t, domain.Decision{Status: domain.DecisionAllowed}.Allowed())
	assert.False(t, domain.Decision{Status: domain.DecisionDenied}.Allowed())
	assert.False(t, domain.Decision{Status: domain.DecisionPendingApproval}.Allowed())
}
