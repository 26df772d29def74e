package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/server/middleware"
	"github.com/wardenhq/warden/internal/store/redis"
)

type ListPendingApprovalsInput struct{}

type ListPendingApprovalsOutput struct {
	Body struct {
		Approvals []*domain.ApprovalRequest `json:"approvals"`
	}
}

type GetApprovalInput struct {
	ID uuid.UUID `path:"id" doc:"Approval request ID"`
}

type GetApprovalOutput struct {
	Body *domain.ApprovalRequest
}

type DecideApprovalInput struct {
	ID   uuid.UUID `path:"id" doc:"Approval request ID"`
	Body struct {
		Approved bool   `json:"approved" doc:"true approves, false rejects"`
		Reason   string `json:"reason,omitempty" maxLength:"1000" doc:"Rejection reason shown to the agent"`
	}
}

type DecideApprovalOutput struct {
	Body *domain.ApprovalRequest
}

func RegisterApprovalRoutes(api huma.API, store DataStore, pub Publisher) {
	huma.Register(api, huma.Operation{
		OperationID: "list-pending-approvals",
		Method:      http.MethodGet,
		Path:        "/v1/approvals/pending",
		Summary:     "List approval requests awaiting a decision",
		Tags:        []string{"Approvals"},
	}, func(ctx context.Context, _ *ListPendingApprovalsInput) (*ListPendingApprovalsOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		approvals, err := store.Approvals().ListPending(ctx, orgID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list approvals", err)
		}

		out := &ListPendingApprovalsOutput{}
		out.Body.Approvals = approvals
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-approval",
		Method:      http.MethodGet,
		Path:        "/v1/approvals/{id}",
		Summary:     "Get an approval request by ID",
		Description: "Agents poll this while a guarded call waits on a decision.",
		Tags:        []string{"Approvals"},
	}, func(ctx context.Context, input *GetApprovalInput) (*GetApprovalOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		approval, err := store.Approvals().GetByID(ctx, orgID, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("approval request not found")
			}
			return nil, huma.Error500InternalServerError("failed to get approval request", err)
		}

		return &GetApprovalOutput{Body: approval}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-approval",
		Method:      http.MethodPost,
		Path:        "/v1/approvals/{id}/decide",
		Summary:     "Approve or reject a pending request",
		Description: "Only an operator token may decide; the agent credential that triggered the request can never approve it.",
		Tags:        []string{"Approvals"},
	}, func(ctx context.Context, input *DecideApprovalInput) (*DecideApprovalOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}
		userID, ok := middleware.UserIDFromContext(ctx)
		if !ok {
			// API-key callers are agents: deciding would be self-approval.
			return nil, huma.Error403Forbidden(domain.ErrSelfApproval.Error())
		}

		status := domain.ApprovalRejected
		if input.Body.Approved {
			status = domain.ApprovalApproved
		}

		err := store.Approvals().Decide(ctx, orgID, input.ID, status, userID, input.Body.Reason)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				return nil, huma.Error404NotFound("approval request not found")
			case errors.Is(err, domain.ErrAlreadyDecided):
				return nil, huma.Error409Conflict("approval request is already decided")
			default:
				return nil, huma.Error500InternalServerError("failed to decide approval request", err)
			}
		}

		approval, err := store.Approvals().GetByID(ctx, orgID, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load decided approval", err)
		}

		// Waiting guards poll, but the live channel resolves them faster.
		if pub != nil {
			if payload, merr := json.Marshal(approval); merr == nil {
				if perr := pub.Publish(ctx, redis.ApprovalChannel(orgID), payload); perr != nil {
					log.Warn().Err(perr).Msg("approval decision publish failed")
				}
			}
		}

		return &DecideApprovalOutput{Body: approval}, nil
	})
}
