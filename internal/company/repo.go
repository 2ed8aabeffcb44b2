package company

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderdesk/orderdesk/internal/platform/httpx"
)

// Repository is the persistence surface for companies.
type Repository interface {
	GetByID(ctx context.Context, companyID int64) (*Company, error)
	SetLogoKey(ctx context.Context, companyID int64, key string) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetByID loads one company.
func (r *PGRepository) GetByID(ctx context.Context, companyID int64) (*Company, error) {
	var c Company
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(logo_key, ''), created_at FROM companies WHERE id = $1`,
		companyID).Scan(&c.ID, &c.Name, &c.LogoKey, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: company", httpx.ErrNotFound)
		}
		return nil, fmt.Errorf("company: load: %w", err)
	}
	return &c, nil
}

// SetLogoKey records the storage key of the uploaded logo.
func (r *PGRepository) SetLogoKey(ctx context.Context, companyID int64, key string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE companies SET logo_key = $1 WHERE id = $2`, key, companyID)
	if err != nil {
		return fmt.Errorf("company: set logo key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: company", httpx.ErrNotFound)
	}
	return nil
}
