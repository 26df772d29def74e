package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/internal/domain"
)

type OrgRepo struct {
	pool *pgxpool.Pool
}

func NewOrgRepo(pool *pgxpool.Pool) *OrgRepo {
	return &OrgRepo{pool: pool}
}

func (r *OrgRepo) Create(ctx context.Context, org *domain.Organization) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, api_key_hash, api_key_prefix, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		org.ID, org.Name, org.APIKeyHash, org.APIKeyPrefix, org.IsActive, org.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("orgRepo.Create: %w", err)
	}

	return nil
}

func (r *OrgRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	var org domain.Organization

	err := r.pool.QueryRow(ctx,
		`SELECT id, name, api_key_hash, api_key_prefix, is_active, created_at
		 FROM organizations WHERE id = $1`,
		id,
	).Scan(&org.ID, &org.Name, &org.APIKeyHash, &org.APIKeyPrefix, &org.IsActive, &org.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("orgRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("orgRepo.GetByID: %w", err)
	}

	return &org, nil
}

func (r *OrgRepo) GetByAPIKeyPrefix(ctx context.Context, prefix string) (*domain.Organization, error) {
	var org domain.Organization

	err := r.pool.QueryRow(ctx,
		`SELECT id, name, api_key_hash, api_key_prefix, is_active, created_at
		 FROM organizations WHERE api_key_prefix = $1`,
		prefix,
	).Scan(&org.ID, &org.Name, &org.APIKeyHash, &org.APIKeyPrefix, &org.IsActive, &org.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("orgRepo.GetByAPIKeyPrefix: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("orgRepo.GetByAPIKeyPrefix: %w", err)
	}

	return &org, nil
}
