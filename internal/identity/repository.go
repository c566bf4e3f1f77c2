package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/buildflow/internal/platform/db"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

// Repository reads companies and memberships from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetCompany loads a company by id.
func (r *Repository) GetCompany(ctx context.Context, id int64) (Company, error) {
	var c Company
	var kind, status string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, name, kind, status FROM companies WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &kind, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Company{}, fmt.Errorf("company %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Company{}, shared.Backend(err)
	}
	c.Kind = CompanyKind(kind)
	c.Status = CompanyStatus(status)
	return c, nil
}

// GetMember loads the membership of a user.
func (r *Repository) GetMember(ctx context.Context, userID int64) (Member, error) {
	var m Member
	var role string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT user_id, company_id, role, active FROM company_members WHERE user_id=$1`, userID).
		Scan(&m.UserID, &m.CompanyID, &role, &m.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, fmt.Errorf("member %d: %w", userID, shared.ErrNotFound)
	}
	if err != nil {
		return Member{}, shared.Backend(err)
	}
	m.Role = shared.Role(role)
	return m, nil
}
