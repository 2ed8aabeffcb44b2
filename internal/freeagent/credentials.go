package freeagent

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialStore persists one credential row per tenant company.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore constructs the store.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Get returns the stored credential for a company.
func (s *CredentialStore) Get(ctx context.Context, companyID int64) (Credential, error) {
	const query = `SELECT company_id, access_token, refresh_token, expires_at, updated_at FROM freeagent_credentials WHERE company_id = $1`
	var cred Credential
	err := s.pool.QueryRow(ctx, query, companyID).Scan(&cred.CompanyID, &cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrNotConnected
		}
		return Credential{}, err
	}
	return cred, nil
}

// Put upserts the credential row. Concurrent refreshes across processes are
// last-writer-wins; the row has no version column.
func (s *CredentialStore) Put(ctx context.Context, cred Credential) error {
	const query = `
		INSERT INTO freeagent_credentials (company_id, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (company_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()`
	_, err := s.pool.Exec(ctx, query, cred.CompanyID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt)
	return err
}

// Delete removes the credential, disconnecting the company.
func (s *CredentialStore) Delete(ctx context.Context, companyID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM freeagent_credentials WHERE company_id = $1`, companyID)
	return err
}
