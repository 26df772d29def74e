// Package client is the agent-side transport to the control plane. Guard
// pre-checks and policy pulls go through a retry wrapper and a circuit
// breaker; audit batch delivery exposes single-attempt semantics because
// the ledger worker owns its own retry schedule.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/ledger"
	"github.com/wardenhq/warden/internal/policy"
)

// ErrUnauthorized means the API key or signature was rejected at the
// boundary. Not retryable.
var ErrUnauthorized = errors.New("client: unauthorized")

// TransportError wraps a network or server failure talking to the control
// plane, surfaced after retry exhaustion.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("client: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config holds connection settings for one control plane.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "warden-control-plane",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		cb:      cb,
	}
}

// apiError is the control plane's JSON error body.
type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// statusError is an HTTP failure with the decoded body, when present.
type statusError struct {
	Code   int
	Detail string
}

func (e *statusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("status %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("status %d", e.Code)
}

// do performs one HTTP round trip and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode %s: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("client: %s: %w", path, err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ledger.RetryAfterError{
			After: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:   &statusError{Code: resp.StatusCode},
		}
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrConflict, path)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, path)
	case resp.StatusCode >= 400:
		var ae apiError
		_ = json.NewDecoder(resp.Body).Decode(&ae)
		return &statusError{Code: resp.StatusCode, Detail: ae.Detail}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("client: decode %s: %w", path, err)
		}
	}
	return nil
}

// doRetry wraps do with the circuit breaker and a bounded retry loop.
// 4xx responses are terminal; 429 waits the server-requested delay.
func (c *Client) doRetry(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var ra *ledger.RetryAfterError
				if errors.As(err, &ra) {
					return ra.After
				}
				return retry.BackOffDelay(n, err, config)
			}),
			retry.RetryIf(func(err error) bool {
				if errors.Is(err, ErrUnauthorized) ||
					errors.Is(err, domain.ErrConflict) ||
					errors.Is(err, domain.ErrNotFound) {
					return false
				}
				var se *statusError
				if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
					return false
				}
				return true
			}),
		)
		return nil, r.Do(func() error {
			return c.do(ctx, method, path, query, body, out)
		})
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	var se *statusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}

// RegisterRequest registers an agent identity with the control plane.
type RegisterRequest struct {
	Name        string `json:"name"`
	PublicKey   string `json:"public_key"`
	AgentType   string `json:"agent_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// RegisterAgent creates the agent on first call. A repeat call with the
// same public key returns domain.ErrConflict; callers that only need the
// identity known upstream can treat that as success.
func (c *Client) RegisterAgent(ctx context.Context, req RegisterRequest) (*domain.Agent, error) {
	var agent domain.Agent
	if err := c.doRetry(ctx, "RegisterAgent", http.MethodPost, "/v1/agents/register", nil, req, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// policySyncResponse is the resolved tool map served for one agent.
type policySyncResponse struct {
	Policies map[string]policy.Rule `json:"policies"`
}

// FetchPolicies pulls the resolved policy map for an agent. The result is
// keyed into the agent's scope so the local store resolves it directly.
func (c *Client) FetchPolicies(ctx context.Context, agentKey string) (policy.Set, error) {
	q := url.Values{"agent_public_key": {agentKey}}
	var resp policySyncResponse
	if err := c.doRetry(ctx, "FetchPolicies", http.MethodGet, "/v1/policies/sync", q, nil, &resp); err != nil {
		return nil, err
	}

	set := make(policy.Set, len(resp.Policies))
	for tool, rule := range resp.Policies {
		rule.ToolName = tool
		set[policy.Key(agentKey, tool)] = rule
	}
	return set, nil
}

// GuardCheckRequest is the synchronous pre-check payload. Signature is an
// Ed25519 signature over the canonical JSON of Data under the claimed
// public key; the control plane rejects mismatches regardless of policy.
type GuardCheckRequest struct {
	Operation      string         `json:"operation"`
	AgentPublicKey string         `json:"agent_public_key"`
	Data           map[string]any `json:"data,omitempty"`
	Signature      string         `json:"signature,omitempty"`
}

// GuardCheckResponse mirrors the control plane's decision.
type GuardCheckResponse struct {
	Allowed          bool       `json:"allowed"`
	RequiresApproval bool       `json:"requires_approval,omitempty"`
	ApprovalID       *uuid.UUID `json:"approval_id,omitempty"`
	Message          string     `json:"message,omitempty"`
}

// GuardCheck asks the control plane for a decision on one operation.
func (c *Client) GuardCheck(ctx context.Context, req GuardCheckRequest) (*GuardCheckResponse, error) {
	var resp GuardCheckResponse
	if err := c.doRetry(ctx, "GuardCheck", http.MethodPost, "/guard", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitLogs ships one batch of audit records. Single attempt: the ledger
// worker schedules retries, so retrying here would double up.
func (c *Client) SubmitLogs(ctx context.Context, records []domain.AuditRecord) error {
	body := map[string]any{"logs": records}
	if err := c.do(ctx, http.MethodPost, "/v1/logs/batch", nil, body, nil); err != nil {
		var ra *ledger.RetryAfterError
		if errors.As(err, &ra) {
			return ra
		}
		return &TransportError{Op: "SubmitLogs", Err: err}
	}
	return nil
}

// SubmitLog ships a single audit record.
func (c *Client) SubmitLog(ctx context.Context, rec domain.AuditRecord) error {
	return c.doRetry(ctx, "SubmitLog", http.MethodPost, "/log", nil, rec, nil)
}

// QueryLogs fetches stored audit records matching the filter.
func (c *Client) QueryLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	q := url.Values{}
	if filter.AgentID != nil {
		q.Set("agent_id", filter.AgentID.String())
	}
	if filter.ToolName != "" {
		q.Set("tool_name", filter.ToolName)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	var resp struct {
		Logs []domain.AuditRecord `json:"logs"`
	}
	if err := c.doRetry(ctx, "QueryLogs", http.MethodGet, "/v1/logs", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// GetApproval fetches one approval request by id.
func (c *Client) GetApproval(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	var ar domain.ApprovalRequest
	if err := c.doRetry(ctx, "GetApproval", http.MethodGet, "/v1/approvals/"+id.String(), nil, nil, &ar); err != nil {
		return nil, err
	}
	return &ar, nil
}
