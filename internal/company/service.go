package company

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/orderdesk/orderdesk/internal/freeagent"
	"github.com/orderdesk/orderdesk/internal/integration"
	"github.com/orderdesk/orderdesk/internal/platform/httpx"
	"github.com/orderdesk/orderdesk/internal/shared"
	"github.com/orderdesk/orderdesk/internal/storage"
)

// OAuthClient is the slice of the FreeAgent client needed to connect a
// tenant. Satisfied by *freeagent.Client.
type OAuthClient interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (freeagent.Credential, error)
}

// CredentialStore persists tenant credentials. Satisfied by
// *freeagent.CredentialStore.
type CredentialStore interface {
	Put(ctx context.Context, cred freeagent.Credential) error
	Delete(ctx context.Context, companyID int64) error
}

// Mirror is the slice of the integration service the company API exposes.
// Satisfied by *integration.Service.
type Mirror interface {
	SyncCompanyData(ctx context.Context, companyID int64, force bool) error
	CompanyDetails(ctx context.Context, companyID int64) (*integration.CompanyDetails, error)
	Contacts(ctx context.Context, companyID int64) ([]integration.CachedContact, error)
	Projects(ctx context.Context, companyID int64) ([]integration.CachedProject, error)
	Categories(ctx context.Context, companyID int64) ([]integration.CachedCategory, error)
	CreateProjectForCompany(ctx context.Context, companyID, userID int64, name, currency string) (*integration.CachedProject, error)
}

// ObjectStore persists the company logo. Satisfied by *storage.S3Store.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
}

// Service implements company operations.
type Service struct {
	repo   Repository
	oauth  OAuthClient
	creds  CredentialStore
	mirror Mirror
	store  ObjectStore
	logger *slog.Logger
}

// ServiceConfig collects service dependencies.
type ServiceConfig struct {
	Repo   Repository
	OAuth  OAuthClient
	Creds  CredentialStore
	Mirror Mirror
	Store  ObjectStore
	Logger *slog.Logger
}

// NewService constructs the service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:   cfg.Repo,
		oauth:  cfg.OAuth,
		creds:  cfg.Creds,
		mirror: cfg.Mirror,
		store:  cfg.Store,
		logger: cfg.Logger,
	}
}

// Get returns the company with its mirrored FreeAgent details, if synced.
func (s *Service) Get(ctx context.Context, companyID int64) (*Company, *integration.CompanyDetails, error) {
	company, err := s.repo.GetByID(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}
	details, err := s.mirror.CompanyDetails(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}
	return company, details, nil
}

// ConnectURL issues a fresh state value and the FreeAgent consent URL.
func (s *Service) ConnectURL() (url, state string, err error) {
	state, err = shared.NewPortalToken()
	if err != nil {
		return "", "", fmt.Errorf("company: oauth state: %w", err)
	}
	return s.oauth.AuthorizeURL(state), state, nil
}

// CompleteConnect exchanges the authorization code, stores the credential
// and kicks off a first data sync. A failed sync does not undo the
// connection; the tenant can retry it.
func (s *Service) CompleteConnect(ctx context.Context, companyID int64, code string) error {
	cred, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: FreeAgent rejected the authorization code", httpx.ErrUpstream)
	}
	cred.CompanyID = companyID
	if err := s.creds.Put(ctx, cred); err != nil {
		return err
	}
	if err := s.mirror.SyncCompanyData(ctx, companyID, true); err != nil {
		s.logger.Warn("initial sync after connect failed",
			slog.Int64("company_id", companyID),
			slog.Any("error", err))
	}
	return nil
}

// Disconnect removes the stored credential.
func (s *Service) Disconnect(ctx context.Context, companyID int64) error {
	return s.creds.Delete(ctx, companyID)
}

// UploadLogo stores the logo and records its key.
func (s *Service) UploadLogo(ctx context.Context, companyID int64, filename, contentType string, file io.Reader) (string, error) {
	if filename == "" || file == nil {
		return "", fmt.Errorf("%w: logo file is required", httpx.ErrValidation)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := storage.LogoKey(companyID, filename)
	if err := s.store.Put(ctx, key, contentType, file); err != nil {
		return "", err
	}
	if err := s.repo.SetLogoKey(ctx, companyID, key); err != nil {
		return "", err
	}
	return key, nil
}
