package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/internal/domain"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

const auditColumns = `id, org_id, agent_id, tool_name, status, amount, duration_ms, public_key, signature, error_message, payload, timestamp`

// InsertBatch persists records inside one transaction, skipping IDs that
// already exist. Re-delivered batches therefore collapse to zero rows.
func (r *AuditRepo) InsertBatch(ctx context.Context, orgID uuid.UUID, records []*domain.AuditRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("auditRepo.InsertBatch: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	inserted := 0
	for _, rec := range records {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return inserted, fmt.Errorf("auditRepo.InsertBatch: marshal payload: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO audit_logs (`+auditColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (id) DO NOTHING`,
			rec.ID, orgID, rec.AgentID, rec.ToolName, rec.Status, rec.Amount,
			rec.DurationMS, rec.PublicKey, rec.Signature, rec.ErrorMessage,
			payload, rec.Timestamp,
		)
		if err != nil {
			return inserted, fmt.Errorf("auditRepo.InsertBatch: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("auditRepo.InsertBatch: commit: %w", err)
	}

	return inserted, nil
}

func (r *AuditRepo) List(ctx context.Context, orgID uuid.UUID, filter domain.AuditFilter) ([]*domain.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE org_id = $1`
	args := []any{orgID}

	if filter.AgentID != nil {
		args = append(args, *filter.AgentID)
		query += ` AND agent_id = $` + strconv.Itoa(len(args))
	}
	if filter.ToolName != "" {
		args = append(args, filter.ToolName)
		query += ` AND tool_name = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY timestamp DESC`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.List: %w", err)
	}
	defer rows.Close()

	return scanAuditRecords(rows, "auditRepo.List")
}

func (r *AuditRepo) ActivitySummary(ctx context.Context, orgID uuid.UUID) ([]*domain.AgentActivity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.name,
		        COUNT(l.id),
		        COUNT(l.id) FILTER (WHERE l.status = 'denied'),
		        COUNT(l.id) FILTER (WHERE l.status = 'error'),
		        MAX(l.timestamp)
		 FROM agents a
		 LEFT JOIN audit_logs l ON l.agent_id = a.id
		 WHERE a.org_id = $1
		 GROUP BY a.id, a.name
		 ORDER BY COUNT(l.id) DESC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.ActivitySummary: %w", err)
	}
	defer rows.Close()

	var summary []*domain.AgentActivity
	for rows.Next() {
		var a domain.AgentActivity
		if err := rows.Scan(
			&a.AgentID, &a.AgentName, &a.TotalCalls, &a.DeniedCalls, &a.ErrorCalls, &a.LastCallAt,
		); err != nil {
			return nil, fmt.Errorf("auditRepo.ActivitySummary: scan: %w", err)
		}
		summary = append(summary, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auditRepo.ActivitySummary: rows: %w", err)
	}

	return summary, nil
}

func scanAuditRecords(rows pgx.Rows, caller string) ([]*domain.AuditRecord, error) {
	var records []*domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var payload []byte

		if err := rows.Scan(
			&rec.ID, &rec.OrgID, &rec.AgentID, &rec.ToolName, &rec.Status, &rec.Amount,
			&rec.DurationMS, &rec.PublicKey, &rec.Signature, &rec.ErrorMessage,
			&payload, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &rec.Payload); err != nil {
				return nil, fmt.Errorf("%s: unmarshal payload: %w", caller, err)
			}
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return records, nil
}
