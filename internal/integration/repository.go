package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderdesk/orderdesk/internal/platform/db"
)

// Repository is the persistence surface for mirrored FreeAgent data.
type Repository interface {
	ReplaceCompanyData(ctx context.Context, companyID int64, data CompanyData) error
	GetCompanyDetails(ctx context.Context, companyID int64) (*CompanyDetails, error)
	ListContacts(ctx context.Context, companyID int64) ([]CachedContact, error)
	ListProjects(ctx context.Context, companyID int64) ([]CachedProject, error)
	ListCategories(ctx context.Context, companyID int64) ([]CachedCategory, error)
	ContactURLByName(ctx context.Context, companyID int64, name string) (string, error)
	InsertLocalProject(ctx context.Context, project *CachedProject) error
	SetProjectURL(ctx context.Context, projectID int64, url string) error
}

// ErrNoContact reports that no cached contact matches the supplier name.
var ErrNoContact = errors.New("integration: no cached contact with that name")

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ReplaceCompanyData swaps all cached rows for the company in one
// transaction. Locally created projects that have not reached FreeAgent yet
// (empty URL) survive the swap.
func (r *PGRepository) ReplaceCompanyData(ctx context.Context, companyID int64, data CompanyData) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM cached_contacts WHERE company_id = $1`, companyID); err != nil {
			return fmt.Errorf("integration: clear contacts: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cached_projects WHERE company_id = $1 AND freeagent_url IS NOT NULL`, companyID); err != nil {
			return fmt.Errorf("integration: clear projects: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cached_categories WHERE company_id = $1`, companyID); err != nil {
			return fmt.Errorf("integration: clear categories: %w", err)
		}

		for _, c := range data.Contacts {
			if _, err := tx.Exec(ctx,
				`INSERT INTO cached_contacts (company_id, freeagent_url, name, email, synced_at) VALUES ($1, $2, $3, $4, NOW())`,
				companyID, c.URL, c.Name, c.Email); err != nil {
				return fmt.Errorf("integration: insert contact: %w", err)
			}
		}
		for _, p := range data.Projects {
			if _, err := tx.Exec(ctx,
				`INSERT INTO cached_projects (company_id, freeagent_url, name, status, currency, synced_at) VALUES ($1, $2, $3, $4, $5, NOW())`,
				companyID, p.URL, p.Name, p.Status, p.Currency); err != nil {
				return fmt.Errorf("integration: insert project: %w", err)
			}
		}
		for _, c := range data.Categories {
			if _, err := tx.Exec(ctx,
				`INSERT INTO cached_categories (company_id, freeagent_url, description, nominal_code) VALUES ($1, $2, $3, $4)`,
				companyID, c.URL, c.Description, c.NominalCode); err != nil {
				return fmt.Errorf("integration: insert category: %w", err)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO company_details (company_id, name, subdomain, currency, company_registration, synced_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (company_id) DO UPDATE
			SET name = EXCLUDED.name,
			    subdomain = EXCLUDED.subdomain,
			    currency = EXCLUDED.currency,
			    company_registration = EXCLUDED.company_registration,
			    synced_at = NOW()`,
			companyID, data.Details.Name, data.Details.Subdomain, data.Details.Currency, data.Details.CompanyRegistration)
		if err != nil {
			return fmt.Errorf("integration: upsert company details: %w", err)
		}
		return nil
	})
}

// GetCompanyDetails returns the mirrored profile, nil when never synced.
func (r *PGRepository) GetCompanyDetails(ctx context.Context, companyID int64) (*CompanyDetails, error) {
	var d CompanyDetails
	err := r.pool.QueryRow(ctx,
		`SELECT company_id, name, COALESCE(subdomain, ''), currency, COALESCE(company_registration, ''), synced_at FROM company_details WHERE company_id = $1`,
		companyID).Scan(&d.CompanyID, &d.Name, &d.Subdomain, &d.Currency, &d.CompanyRegistration, &d.SyncedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("integration: company details: %w", err)
	}
	return &d, nil
}

// ListContacts returns cached contacts ordered by name.
func (r *PGRepository) ListContacts(ctx context.Context, companyID int64) ([]CachedContact, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, company_id, freeagent_url, name, COALESCE(email, ''), synced_at FROM cached_contacts WHERE company_id = $1 ORDER BY name`,
		companyID)
	if err != nil {
		return nil, fmt.Errorf("integration: list contacts: %w", err)
	}
	defer rows.Close()
	var out []CachedContact
	for rows.Next() {
		var c CachedContact
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.URL, &c.Name, &c.Email, &c.SyncedAt); err != nil {
			return nil, fmt.Errorf("integration: scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListProjects returns cached projects ordered by name.
func (r *PGRepository) ListProjects(ctx context.Context, companyID int64) ([]CachedProject, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, company_id, COALESCE(freeagent_url, ''), name, status, COALESCE(currency, ''), synced_at FROM cached_projects WHERE company_id = $1 ORDER BY name`,
		companyID)
	if err != nil {
		return nil, fmt.Errorf("integration: list projects: %w", err)
	}
	defer rows.Close()
	var out []CachedProject
	for rows.Next() {
		var p CachedProject
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.URL, &p.Name, &p.Status, &p.Currency, &p.SyncedAt); err != nil {
			return nil, fmt.Errorf("integration: scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListCategories returns cached categories ordered by nominal code.
func (r *PGRepository) ListCategories(ctx context.Context, companyID int64) ([]CachedCategory, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, company_id, freeagent_url, description, nominal_code FROM cached_categories WHERE company_id = $1 ORDER BY nominal_code`,
		companyID)
	if err != nil {
		return nil, fmt.Errorf("integration: list categories: %w", err)
	}
	defer rows.Close()
	var out []CachedCategory
	for rows.Next() {
		var c CachedCategory
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.URL, &c.Description, &c.NominalCode); err != nil {
			return nil, fmt.Errorf("integration: scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ContactURLByName resolves a cached contact by exact name.
func (r *PGRepository) ContactURLByName(ctx context.Context, companyID int64, name string) (string, error) {
	var url string
	err := r.pool.QueryRow(ctx,
		`SELECT freeagent_url FROM cached_contacts WHERE company_id = $1 AND name = $2 LIMIT 1`,
		companyID, name).Scan(&url)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoContact
		}
		return "", fmt.Errorf("integration: contact by name: %w", err)
	}
	return url, nil
}

// InsertLocalProject stores a project row before the remote create.
func (r *PGRepository) InsertLocalProject(ctx context.Context, project *CachedProject) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO cached_projects (company_id, freeagent_url, name, status, currency, synced_at) VALUES ($1, NULLIF($2, ''), $3, $4, $5, NOW()) RETURNING id, synced_at`,
		project.CompanyID, project.URL, project.Name, project.Status, project.Currency).Scan(&project.ID, &project.SyncedAt)
	if err != nil {
		return fmt.Errorf("integration: insert local project: %w", err)
	}
	return nil
}

// SetProjectURL records the remote resource URL after a successful create.
func (r *PGRepository) SetProjectURL(ctx context.Context, projectID int64, url string) error {
	_, err := r.pool.Exec(ctx, `UPDATE cached_projects SET freeagent_url = $1, synced_at = NOW() WHERE id = $2`, url, projectID)
	if err != nil {
		return fmt.Errorf("integration: set project url: %w", err)
	}
	return nil
}
