package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/identity"
	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/server/middleware"
	"github.com/wardenhq/warden/internal/store/redis"
)

type GuardCheckInput struct {
	Body struct {
		Operation      string         `json:"operation" minLength:"1" maxLength:"255" doc:"Tool name being invoked"`
		AgentPublicKey string         `json:"agent_public_key" minLength:"64" maxLength:"64" doc:"Ed25519 public key, hex"`
		Data           map[string]any `json:"data,omitempty" doc:"Signed call payload"`
		Signature      string         `json:"signature" minLength:"1" doc:"Ed25519 signature over the canonical JSON of data, hex"`
	}
}

type GuardCheckOutput struct {
	Body struct {
		Allowed          bool       `json:"allowed"`
		RequiresApproval bool       `json:"requires_approval,omitempty"`
		ApprovalID       *uuid.UUID `json:"approval_id,omitempty"`
		Message          string     `json:"message,omitempty"`
	}
}

// RegisterGuardRoutes wires the synchronous pre-check. The server is the
// authority: it re-runs the same resolution the agent's local cache ran,
// and rejects any request whose signature does not verify under the
// claimed public key, whatever policy would have said.
func RegisterGuardRoutes(api huma.API, store DataStore, pub Publisher, notifier ApprovalNotifier, approvalTTL time.Duration) {
	if approvalTTL <= 0 {
		approvalTTL = domain.DefaultApprovalTTL
	}

	huma.Register(api, huma.Operation{
		OperationID: "guard-check",
		Method:      http.MethodPost,
		Path:        "/guard",
		Summary:     "Authoritative pre-check for one guarded call",
		Tags:        []string{"Guard"},
	}, func(ctx context.Context, input *GuardCheckInput) (*GuardCheckOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		canon, err := identity.CanonicalJSON(input.Body.Data)
		if err != nil || !identity.Verify(input.Body.AgentPublicKey, canon, input.Body.Signature) {
			return nil, huma.Error401Unauthorized("signature does not verify under the claimed public key")
		}

		agent, err := store.Agents().GetByPublicKey(ctx, orgID, input.Body.AgentPublicKey)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("agent not registered")
			}
			return nil, huma.Error500InternalServerError("failed to resolve agent", err)
		}

		var amount *float64
		if v, ok := input.Body.Data["amount"].(float64); ok {
			amount = &v
		}

		out := &GuardCheckOutput{}
		stored, err := store.Policies().Resolve(ctx, orgID, &agent.ID, input.Body.Operation)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error500InternalServerError("failed to resolve policy", err)
			}
			// No rule: default allow, same as the agent-side engine.
			out.Body.Allowed = true
			touchAgent(ctx, store, agent)
			return out, nil
		}

		dec := policy.EvaluateRule(input.Body.Operation, toRule(stored), amount)
		switch dec.Status {
		case domain.DecisionAllowed:
			out.Body.Allowed = true

		case domain.DecisionDenied:
			out.Body.Message = dec.Reason

		case domain.DecisionPendingApproval:
			now := time.Now().UTC()
			req := &domain.ApprovalRequest{
				ID:          uuid.New(),
				OrgID:       orgID,
				AgentID:     agent.ID,
				ToolName:    input.Body.Operation,
				RequestData: input.Body.Data,
				Status:      domain.ApprovalPending,
				CreatedAt:   now,
				ExpiresAt:   now.Add(approvalTTL),
			}
			if err := store.Approvals().Create(ctx, req); err != nil {
				return nil, huma.Error500InternalServerError("failed to create approval request", err)
			}
			out.Body.RequiresApproval = true
			out.Body.ApprovalID = &req.ID
			out.Body.Message = dec.Reason

			publishApproval(ctx, pub, req)
			if notifier != nil {
				if err := notifier.ApprovalRequested(ctx, agent.Name, req); err != nil {
					log.Warn().Err(err).Str("tool", req.ToolName).Msg("approval notification failed")
				}
			}
		}

		touchAgent(ctx, store, agent)
		return out, nil
	})
}

func touchAgent(ctx context.Context, store DataStore, agent *domain.Agent) {
	if err := store.Agents().TouchLastSeen(ctx, agent.ID); err != nil {
		log.Warn().Err(err).Str("agent", agent.Name).Msg("failed to touch last_seen")
	}
}

// publishApproval pushes an approval event onto the org's live channel so
// dashboards and pollers pick it up without refreshing.
func publishApproval(ctx context.Context, pub Publisher, req *domain.ApprovalRequest) {
	if pub == nil {
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := pub.Publish(ctx, redis.ApprovalChannel(req.OrgID), payload); err != nil {
		log.Warn().Err(err).Msg("approval publish failed")
	}
}
