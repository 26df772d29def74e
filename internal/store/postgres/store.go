package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/internal/domain"
)

type Store struct {
	pool      *pgxpool.Pool
	orgs      *OrgRepo
	users     *UserRepo
	agents    *AgentRepo
	policies  *PolicyRepo
	audit     *AuditRepo
	approvals *ApprovalRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:      pool,
		orgs:      NewOrgRepo(pool),
		users:     NewUserRepo(pool),
		agents:    NewAgentRepo(pool),
		policies:  NewPolicyRepo(pool),
		audit:     NewAuditRepo(pool),
		approvals: NewApprovalRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) Orgs() domain.OrganizationRepository   { return s.orgs }
func (s *Store) Users() domain.UserRepository          { return s.users }
func (s *Store) Agents() domain.AgentRepository        { return s.agents }
func (s *Store) Policies() domain.PolicyRepository     { return s.policies }
func (s *Store) Audit() domain.AuditRepository         { return s.audit }
func (s *Store) Approvals() domain.ApprovalRepository  { return s.approvals }
