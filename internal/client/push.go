package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/policyfile"
)

// RemotePolicy is one control-plane policy with its server identity,
// needed for deletions during a push.
type RemotePolicy struct {
	ID       uuid.UUID   `json:"id"`
	AgentKey string      `json:"agent_key,omitempty"`
	Rule     policy.Rule `json:"rule"`
}

// scope returns the cache scope for a remote policy. An empty agent key
// means the policy is global.
func (p RemotePolicy) scope() string {
	if p.AgentKey == "" {
		return policy.GlobalScope
	}
	return p.AgentKey
}

// ListPolicies fetches the organization's full policy set.
func (c *Client) ListPolicies(ctx context.Context) ([]RemotePolicy, error) {
	var resp struct {
		Policies []RemotePolicy `json:"policies"`
	}
	if err := c.doRetry(ctx, "ListPolicies", http.MethodGet, "/v1/policies", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Policies, nil
}

// upsertPolicyRequest creates or replaces one policy slot.
type upsertPolicyRequest struct {
	ToolName         string   `json:"tool_name"`
	Allowed          bool     `json:"allowed"`
	MaxAmount        *float64 `json:"max_amount,omitempty"`
	RequiresApproval bool     `json:"requires_approval,omitempty"`
}

// UpsertPolicy writes one policy. scope is an agent public key, or
// policy.GlobalScope for an organization-wide rule.
func (c *Client) UpsertPolicy(ctx context.Context, scope string, rule policy.Rule) error {
	q := url.Values{}
	if scope != policy.GlobalScope {
		q.Set("agent_key", scope)
	}
	req := upsertPolicyRequest{
		ToolName:         rule.ToolName,
		Allowed:          rule.Allowed,
		MaxAmount:        rule.MaxAmount,
		RequiresApproval: rule.RequiresApproval,
	}
	return c.doRetry(ctx, "UpsertPolicy", http.MethodPost, "/v1/policies", q, req, nil)
}

// DeletePolicy removes one policy by server id.
func (c *Client) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	return c.doRetry(ctx, "DeletePolicy", http.MethodDelete, "/v1/policies/"+id.String(), nil, nil, nil)
}

// PushResult summarizes the mutations a push performed.
type PushResult struct {
	Upserts int
	Deletes int
}

// PushPolicies reconciles the control plane with the local policy file:
// everything in the file is upserted when missing or different, and
// remote policies absent from the file are deleted. A second push with an
// unchanged file performs zero mutations.
func (c *Client) PushPolicies(ctx context.Context, file *policyfile.File) (PushResult, error) {
	remote, err := c.ListPolicies(ctx)
	if err != nil {
		return PushResult{}, err
	}

	remoteSet := make(policy.Set, len(remote))
	ids := make(map[string]uuid.UUID, len(remote))
	for _, rp := range remote {
		key := policy.Key(rp.scope(), rp.Rule.ToolName)
		remoteSet[key] = rp.Rule
		ids[key] = rp.ID
	}

	plan := policy.DiffSets(file.RuleSet(), remoteSet)

	var res PushResult
	for key, rule := range plan.Upserts {
		scope, _, _ := strings.Cut(key, ":")
		if err := c.UpsertPolicy(ctx, scope, rule); err != nil {
			return res, err
		}
		res.Upserts++
	}
	for _, ref := range plan.Deletes {
		id, ok := ids[policy.Key(ref.Scope, ref.ToolName)]
		if !ok {
			continue
		}
		if err := c.DeletePolicy(ctx, id); err != nil {
			return res, err
		}
		res.Deletes++
	}

	log.Info().Int("upserts", res.Upserts).Int("deletes", res.Deletes).Msg("policy push complete")
	return res, nil
}
