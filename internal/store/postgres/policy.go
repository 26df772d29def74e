package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/internal/domain"
)

type PolicyRepo struct {
	pool *pgxpool.Pool
}

func NewPolicyRepo(pool *pgxpool.Pool) *PolicyRepo {
	return &PolicyRepo{pool: pool}
}

const policyColumns = `id, org_id, agent_id, tool_name, allowed, max_amount, requires_approval, priority, metadata, created_at, updated_at`

// Upsert keys on the partial unique indexes over (org_id, tool_name) for
// global rows and (org_id, agent_id, tool_name) for agent rows, so one
// slot exists per scope and tool.
func (r *PolicyRepo) Upsert(ctx context.Context, p *domain.Policy) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("policyRepo.Upsert: marshal metadata: %w", err)
	}

	now := time.Now()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	conflict := `(org_id, tool_name) WHERE agent_id IS NULL`
	if p.AgentID != nil {
		conflict = `(org_id, agent_id, tool_name) WHERE agent_id IS NOT NULL`
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO policies (`+policyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT `+conflict+` DO UPDATE SET
		   allowed = EXCLUDED.allowed,
		   max_amount = EXCLUDED.max_amount,
		   requires_approval = EXCLUDED.requires_approval,
		   priority = EXCLUDED.priority,
		   metadata = EXCLUDED.metadata,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		p.ID, p.OrgID, p.AgentID, p.ToolName, p.Allowed, p.MaxAmount,
		p.RequiresApproval, p.Priority, metadata, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("policyRepo.Upsert: %w", err)
	}

	return nil
}

func (r *PolicyRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*domain.Policy, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE org_id = $1 AND id = $2`,
		orgID, id,
	)

	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("policyRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("policyRepo.GetByID: %w", err)
	}

	return p, nil
}

// Resolve picks the effective policy for one tool call: the agent-specific
// row wins over the global one.
func (r *PolicyRepo) Resolve(ctx context.Context, orgID uuid.UUID, agentID *uuid.UUID, toolName string) (*domain.Policy, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM policies
		 WHERE org_id = $1 AND tool_name = $2 AND (agent_id = $3 OR agent_id IS NULL)
		 ORDER BY agent_id NULLS LAST
		 LIMIT 1`,
		orgID, toolName, agentID,
	)

	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("policyRepo.Resolve: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("policyRepo.Resolve: %w", err)
	}

	return p, nil
}

// ListForAgent returns the agent's own policies plus the org's globals,
// the working set a policy sync resolves from.
func (r *PolicyRepo) ListForAgent(ctx context.Context, orgID, agentID uuid.UUID) ([]*domain.Policy, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+policyColumns+` FROM policies
		 WHERE org_id = $1 AND (agent_id = $2 OR agent_id IS NULL)
		 ORDER BY tool_name, agent_id NULLS LAST`,
		orgID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("policyRepo.ListForAgent: %w", err)
	}
	defer rows.Close()

	return scanPolicies(rows, "policyRepo.ListForAgent")
}

func (r *PolicyRepo) List(ctx context.Context, orgID uuid.UUID, agentID *uuid.UUID) ([]*domain.Policy, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if agentID != nil {
		rows, err = r.pool.Query(ctx,
			`SELECT `+policyColumns+` FROM policies WHERE org_id = $1 AND agent_id = $2 ORDER BY tool_name`,
			orgID, agentID,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+policyColumns+` FROM policies WHERE org_id = $1 ORDER BY tool_name, agent_id NULLS FIRST`,
			orgID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("policyRepo.List: %w", err)
	}
	defer rows.Close()

	return scanPolicies(rows, "policyRepo.List")
}

func (r *PolicyRepo) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM policies WHERE org_id = $1 AND id = $2`,
		orgID, id,
	)
	if err != nil {
		return fmt.Errorf("policyRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("policyRepo.Delete: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *PolicyRepo) DeleteByAgent(ctx context.Context, orgID, agentID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM policies WHERE org_id = $1 AND agent_id = $2`,
		orgID, agentID,
	)
	if err != nil {
		return fmt.Errorf("policyRepo.DeleteByAgent: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*domain.Policy, error) {
	var p domain.Policy
	var metadata []byte

	if err := row.Scan(
		&p.ID, &p.OrgID, &p.AgentID, &p.ToolName, &p.Allowed, &p.MaxAmount,
		&p.RequiresApproval, &p.Priority, &metadata, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &p, nil
}

func scanPolicies(rows pgx.Rows, caller string) ([]*domain.Policy, error) {
	var policies []*domain.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return policies, nil
}
