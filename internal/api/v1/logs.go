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
	"github.com/wardenhq/warden/internal/identity"
	"github.com/wardenhq/warden/internal/server/middleware"
	"github.com/wardenhq/warden/internal/store/redis"
)

type IngestBatchInput struct {
	Body struct {
		Logs []*domain.AuditRecord `json:"logs" minItems:"1" maxItems:"500" doc:"Audit records, IDs minted by the agent"`
	}
}

type IngestBatchOutput struct {
	Status int
	Body   struct {
		Accepted int `json:"accepted" doc:"Records persisted (previously seen IDs are skipped silently)"`
		Rejected int `json:"rejected" doc:"Records dropped for failed signature verification"`
	}
}

type IngestOneInput struct {
	Body domain.AuditRecord
}

type IngestOneOutput struct {
	Status int
}

type ListLogsInput struct {
	AgentID  string `query:"agent_id" doc:"Filter by agent ID"`
	ToolName string `query:"tool_name" doc:"Filter by tool name"`
	Status   string `query:"status" enum:"success,denied,error,pending" doc:"Filter by outcome"`
	Limit    int    `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Max results"`
	Offset   int    `query:"offset" minimum:"0" default:"0" doc:"Offset for pagination"`
}

type ListLogsOutput struct {
	Body struct {
		Logs []*domain.AuditRecord `json:"logs"`
	}
}

func RegisterLogRoutes(api huma.API, store DataStore, pub Publisher) {
	huma.Register(api, huma.Operation{
		OperationID: "ingest-logs-batch",
		Method:      http.MethodPost,
		Path:        "/v1/logs/batch",
		Summary:     "Ingest a batch of audit records",
		Description: "Idempotent on record ID, so at-least-once delivery from agents is safe. Signed records whose signature fails verification are dropped.",
		Tags:        []string{"Logs"},
	}, func(ctx context.Context, input *IngestBatchInput) (*IngestBatchOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		accepted, rejected, err := ingestRecords(ctx, store, pub, orgID, input.Body.Logs)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to persist audit records", err)
		}

		out := &IngestBatchOutput{Status: http.StatusAccepted}
		out.Body.Accepted = accepted
		out.Body.Rejected = rejected
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ingest-log",
		Method:      http.MethodPost,
		Path:        "/log",
		Summary:     "Ingest a single audit record",
		Tags:        []string{"Logs"},
	}, func(ctx context.Context, input *IngestOneInput) (*IngestOneOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		rec := input.Body
		_, rejected, err := ingestRecords(ctx, store, pub, orgID, []*domain.AuditRecord{&rec})
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to persist audit record", err)
		}
		if rejected > 0 {
			return nil, huma.Error401Unauthorized("signature does not verify under the claimed public key")
		}

		return &IngestOneOutput{Status: http.StatusAccepted}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/v1/logs",
		Summary:     "Query the audit trail",
		Tags:        []string{"Logs"},
	}, func(ctx context.Context, input *ListLogsInput) (*ListLogsOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		filter := domain.AuditFilter{
			ToolName: input.ToolName,
			Status:   domain.AuditStatus(input.Status),
			Limit:    input.Limit,
			Offset:   input.Offset,
		}
		if input.AgentID != "" {
			id, err := uuid.Parse(input.AgentID)
			if err != nil {
				return nil, huma.Error400BadRequest("agent_id is not a valid UUID")
			}
			filter.AgentID = &id
		}

		logs, err := store.Audit().List(ctx, orgID, filter)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to query audit trail", err)
		}

		out := &ListLogsOutput{}
		out.Body.Logs = logs
		return out, nil
	})
}

// ingestRecords verifies, attributes and persists one batch. Records with
// a signature that does not verify are dropped; unsigned records (denials
// and errors never get signed) pass through. Unknown public keys are kept
// without agent attribution rather than lost.
func ingestRecords(ctx context.Context, store DataStore, pub Publisher, orgID uuid.UUID, records []*domain.AuditRecord) (accepted, rejected int, err error) {
	agentIDs := make(map[string]*uuid.UUID)
	keep := make([]*domain.AuditRecord, 0, len(records))

	for _, rec := range records {
		if rec.Signature != "" {
			canon, cerr := identity.CanonicalJSON(rec.SigningData())
			if cerr != nil || !identity.Verify(rec.PublicKey, canon, rec.Signature) {
				rejected++
				log.Warn().Str("tool", rec.ToolName).Str("public_key", rec.PublicKey).
					Msg("audit record signature rejected")
				continue
			}
		}

		id, cached := agentIDs[rec.PublicKey]
		if !cached {
			agent, aerr := store.Agents().GetByPublicKey(ctx, orgID, rec.PublicKey)
			switch {
			case aerr == nil:
				id = &agent.ID
			case errors.Is(aerr, domain.ErrNotFound):
				id = nil
			default:
				return accepted, rejected, aerr
			}
			agentIDs[rec.PublicKey] = id
		}
		rec.AgentID = id
		rec.OrgID = orgID
		keep = append(keep, rec)
	}

	if len(keep) == 0 {
		return 0, rejected, nil
	}

	inserted, err := store.Audit().InsertBatch(ctx, orgID, keep)
	if err != nil {
		return 0, rejected, err
	}
	accepted = inserted

	if pub != nil {
		for _, rec := range keep {
			payload, merr := json.Marshal(rec)
			if merr != nil {
				continue
			}
			if perr := pub.Publish(ctx, redis.AuditChannel(orgID), payload); perr != nil {
				log.Warn().Err(perr).Msg("audit publish failed")
				break
			}
		}
	}

	return accepted, rejected, nil
}
