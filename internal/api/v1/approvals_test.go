package v1_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/wardenhq/warden/internal/api/v1"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/store/redis"
)

func newApprovalTestAPI(t *testing.T) (humatest.TestAPI, *mockDataStore, *capturePublisher) {
	t.Helper()

	_, api := humatest.New(t)
	store := &mockDataStore{}
	pub := &capturePublisher{}
	v1.RegisterApprovalRoutes(api, store, pub)
	return api, store, pub
}

func makeApproval(orgID uuid.UUID, status domain.ApprovalStatus) *domain.ApprovalRequest {
	return &domain.ApprovalRequest{
		ID:        uuid.New(),
		OrgID:     orgID,
		AgentID:   uuid.New(),
		ToolName:  "wire_transfer",
		Status:    status,
		ExpiresAt: time.Now().UTC().Add(domain.DefaultApprovalTTL),
		CreatedAt: time.Now().UTC(),
	}
}

func TestListPendingApprovals(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	api, store, _ := newApprovalTestAPI(t)
	store.approvals = &mockApprovalRepo{
		listPendingFunc: func(_ context.Context, got uuid.UUID) ([]*domain.ApprovalRequest, error) {
			assert.Equal(t, orgID, got)
			return []*domain.ApprovalRequest{makeApproval(orgID, domain.ApprovalPending)}, nil
		},
	}

	resp := api.GetCtx(operatorCtx(orgID, uuid.New()), "/v1/approvals/pending")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Approvals []*domain.ApprovalRequest `json:"approvals"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Approvals, 1)
	assert.Equal(t, domain.ApprovalPending, body.Approvals[0].Status)
}

func TestGetApproval(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	approval := makeApproval(orgID, domain.ApprovalApproved)

	api, store, _ := newApprovalTestAPI(t)
	store.approvals = &mockApprovalRepo{
		getByIDFunc: func(_ context.Context, _, id uuid.UUID) (*domain.ApprovalRequest, error) {
			if id == approval.ID {
				return approval, nil
			}
			return nil, domain.ErrNotFound
		},
	}

	// Agents poll with the org API key: no user in context.
	resp := api.GetCtx(orgCtx(orgID), "/v1/approvals/"+approval.ID.String())
	require.Equal(t, http.StatusOK, resp.Code)

	var body domain.ApprovalRequest
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, domain.ApprovalApproved, body.Status)

	resp = api.GetCtx(orgCtx(orgID), "/v1/approvals/"+uuid.New().String())
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDecideApproval(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	userID := uuid.New()

	t.Run("approve", func(t *testing.T) {
		t.Parallel()

		approval := makeApproval(orgID, domain.ApprovalPending)
		api, store, pub := newApprovalTestAPI(t)
		store.approvals = &mockApprovalRepo{
			decideFunc: func(_ context.Context, _, id uuid.UUID, status domain.ApprovalStatus, decidedBy uuid.UUID, _ string) error {
				assert.Equal(t, approval.ID, id)
				assert.Equal(t, domain.ApprovalApproved, status)
				assert.Equal(t, userID, decidedBy)
				approval.Status = status
				approval.DecidedBy = &decidedBy
				return nil
			},
			getByIDFunc: func(context.Context, uuid.UUID, uuid.UUID) (*domain.ApprovalRequest, error) {
				return approval, nil
			},
		}

		resp := api.PostCtx(operatorCtx(orgID, userID), "/v1/approvals/"+approval.ID.String()+"/decide",
			map[string]any{"approved": true})

		require.Equal(t, http.StatusOK, resp.Code)

		var body domain.ApprovalRequest
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, domain.ApprovalApproved, body.Status)
		assert.Contains(t, pub.published(), redis.ApprovalChannel(orgID))
	})

	t.Run("reject_with_reason", func(t *testing.T) {
		t.Parallel()

		approval := makeApproval(orgID, domain.ApprovalPending)
		api, store, _ := newApprovalTestAPI(t)
		store.approvals = &mockApprovalRepo{
			decideFunc: func(_ context.Context, _, _ uuid.UUID, status domain.ApprovalStatus, _ uuid.UUID, reason string) error {
				assert.Equal(t, domain.ApprovalRejected, status)
				assert.Equal(t, "amount looks wrong", reason)
				return nil
			},
			getByIDFunc: func(context.Context, uuid.UUID, uuid.UUID) (*domain.ApprovalRequest, error) {
				return approval, nil
			},
		}

		resp := api.PostCtx(operatorCtx(orgID, userID), "/v1/approvals/"+approval.ID.String()+"/decide",
			map[string]any{"approved": false, "reason": "amount looks wrong"})
		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("agent_credential_cannot_decide", func(t *testing.T) {
		t.Parallel()

		api, store, _ := newApprovalTestAPI(t)
		store.approvals = &mockApprovalRepo{
			decideFunc: func(context.Context, uuid.UUID, uuid.UUID, domain.ApprovalStatus, uuid.UUID, string) error {
				t.Fatal("decide must not be reached without an operator")
				return nil
			},
		}

		resp := api.PostCtx(orgCtx(orgID), "/v1/approvals/"+uuid.New().String()+"/decide",
			map[string]any{"approved": true})
		assert.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("already_decided_returns_409", func(t *testing.T) {
		t.Parallel()

		api, store, _ := newApprovalTestAPI(t)
		store.approvals = &mockApprovalRepo{
			decideFunc: func(context.Context, uuid.UUID, uuid.UUID, domain.ApprovalStatus, uuid.UUID, string) error {
				return domain.ErrAlreadyDecided
			},
		}

		resp := api.PostCtx(operatorCtx(orgID, userID), "/v1/approvals/"+uuid.New().String()+"/decide",
			map[string]any{"approved": true})
		assert.Equal(t, http.StatusConflict, resp.Code)
	})

	t.Run("unknown_returns_404", func(t *testing.T) {
		t.Parallel()

		api, store, _ := newApprovalTestAPI(t)
		store.approvals = &mockApprovalRepo{
			decideFunc: func(context.Context, uuid.UUID, uuid.UUID, domain.ApprovalStatus, uuid.UUID, string) error {
				return domain.ErrNotFound
			},
		}

		resp := api.PostCtx(operatorCtx(orgID, userID), "/v1/approvals/"+uuid.New().String()+"/decide",
			map[string]any{"approved": true})
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}
