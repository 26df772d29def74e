package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/server/middleware"
)

type ActivitySummaryInput struct{}

type ActivitySummaryOutput struct {
	Body struct {
		Agents []*domain.AgentActivity `json:"agents"`
	}
}

func RegisterAnalyticsRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "activity-summary",
		Method:      http.MethodGet,
		Path:        "/v1/analytics/summary",
		Summary:     "Per-agent call counts and outcomes",
		Tags:        []string{"Analytics"},
	}, func(ctx context.Context, _ *ActivitySummaryInput) (*ActivitySummaryOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		agents, err := store.Audit().ActivitySummary(ctx, orgID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to build activity summary", err)
		}

		out := &ActivitySummaryOutput{}
		out.Body.Agents = agents
		return out, nil
	})
}
