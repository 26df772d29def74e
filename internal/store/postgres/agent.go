package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/internal/domain"
)

type AgentRepo struct {
	pool *pgxpool.Pool
}

func NewAgentRepo(pool *pgxpool.Pool) *AgentRepo {
	return &AgentRepo{pool: pool}
}

const agentColumns = `id, org_id, name, public_key, agent_type, description, is_active, last_seen_at, created_at`

func (r *AgentRepo) Create(ctx context.Context, a *domain.Agent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO agents (`+agentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.OrgID, a.Name, a.PublicKey, a.AgentType,
		a.Description, a.IsActive, a.LastSeenAt, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("agentRepo.Create: %w", domain.ErrConflict)
		}
		return fmt.Errorf("agentRepo.Create: %w", err)
	}

	return nil
}

func (r *AgentRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*domain.Agent, error) {
	return r.getOne(ctx, "agentRepo.GetByID",
		`SELECT `+agentColumns+` FROM agents WHERE org_id = $1 AND id = $2`, orgID, id)
}

func (r *AgentRepo) GetByPublicKey(ctx context.Context, orgID uuid.UUID, publicKey string) (*domain.Agent, error) {
	return r.getOne(ctx, "agentRepo.GetByPublicKey",
		`SELECT `+agentColumns+` FROM agents WHERE org_id = $1 AND public_key = $2`, orgID, publicKey)
}

func (r *AgentRepo) FindByPublicKey(ctx context.Context, publicKey string) (*domain.Agent, error) {
	return r.getOne(ctx, "agentRepo.FindByPublicKey",
		`SELECT `+agentColumns+` FROM agents WHERE public_key = $1`, publicKey)
}

func (r *AgentRepo) getOne(ctx context.Context, caller, query string, args ...any) (*domain.Agent, error) {
	var a domain.Agent

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&a.ID, &a.OrgID, &a.Name, &a.PublicKey, &a.AgentType,
		&a.Description, &a.IsActive, &a.LastSeenAt, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", caller, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", caller, err)
	}

	return &a, nil
}

func (r *AgentRepo) List(ctx context.Context, orgID uuid.UUID) ([]*domain.Agent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE org_id = $1 ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("agentRepo.List: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(
			&a.ID, &a.OrgID, &a.Name, &a.PublicKey, &a.AgentType,
			&a.Description, &a.IsActive, &a.LastSeenAt, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("agentRepo.List: scan: %w", err)
		}
		agents = append(agents, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agentRepo.List: rows: %w", err)
	}

	return agents, nil
}

func (r *AgentRepo) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE agents SET last_seen_at = $1 WHERE id = $2`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("agentRepo.TouchLastSeen: %w", err)
	}

	return nil
}

func (r *AgentRepo) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM agents WHERE org_id = $1 AND id = $2`,
		orgID, id,
	)
	if err != nil {
		return fmt.Errorf("agentRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agentRepo.Delete: %w", domain.ErrNotFound)
	}

	return nil
}
