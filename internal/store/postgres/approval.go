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

type ApprovalRepo struct {
	pool *pgxpool.Pool
}

func NewApprovalRepo(pool *pgxpool.Pool) *ApprovalRepo {
	return &ApprovalRepo{pool: pool}
}

const approvalColumns = `id, org_id, agent_id, tool_name, request_data, status, decided_by, reason, expires_at, decided_at, created_at`

func (r *ApprovalRepo) Create(ctx context.Context, req *domain.ApprovalRequest) error {
	data, err := json.Marshal(req.RequestData)
	if err != nil {
		return fmt.Errorf("approvalRepo.Create: marshal request data: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO approval_requests (`+approvalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		req.ID, req.OrgID, req.AgentID, req.ToolName, data, req.Status,
		req.DecidedBy, req.Reason, req.ExpiresAt, req.DecidedAt, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("approvalRepo.Create: %w", err)
	}

	return nil
}

func (r *ApprovalRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*domain.ApprovalRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE org_id = $1 AND id = $2`,
		orgID, id,
	)

	req, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("approvalRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.GetByID: %w", err)
	}

	return req, nil
}

// Decide flips a pending request to its final status. The status check is
// part of the UPDATE so two concurrent decisions cannot both win.
func (r *ApprovalRepo) Decide(ctx context.Context, orgID, id uuid.UUID, status domain.ApprovalStatus, decidedBy uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE approval_requests
		 SET status = $1, decided_by = $2, reason = $3, decided_at = $4
		 WHERE org_id = $5 AND id = $6 AND status = 'pending'`,
		status, decidedBy, reason, time.Now(), orgID, id,
	)
	if err != nil {
		return fmt.Errorf("approvalRepo.Decide: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row does not exist or it was already decided.
		if _, getErr := r.GetByID(ctx, orgID, id); getErr != nil {
			return fmt.Errorf("approvalRepo.Decide: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("approvalRepo.Decide: %w", domain.ErrAlreadyDecided)
	}

	return nil
}

func (r *ApprovalRepo) ListPending(ctx context.Context, orgID uuid.UUID) ([]*domain.ApprovalRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests
		 WHERE org_id = $1 AND status = 'pending'
		 ORDER BY created_at ASC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.ListPending: %w", err)
	}
	defer rows.Close()

	var pending []*domain.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("approvalRepo.ListPending: scan: %w", err)
		}
		pending = append(pending, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approvalRepo.ListPending: rows: %w", err)
	}

	return pending, nil
}

// ExpireOverdue sweeps pending rows past their deadline, across all orgs.
func (r *ApprovalRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE approval_requests
		 SET status = 'expired', decided_at = $1
		 WHERE status = 'pending' AND expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("approvalRepo.ExpireOverdue: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanApproval(row rowScanner) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	var data []byte

	if err := row.Scan(
		&req.ID, &req.OrgID, &req.AgentID, &req.ToolName, &data, &req.Status,
		&req.DecidedBy, &req.Reason, &req.ExpiresAt, &req.DecidedAt, &req.CreatedAt,
	); err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &req.RequestData); err != nil {
			return nil, fmt.Errorf("unmarshal request data: %w", err)
		}
	}

	return &req, nil
}
