package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orderdesk/orderdesk/internal/freeagent"
	"github.com/orderdesk/orderdesk/internal/platform/httpx"
	"github.com/orderdesk/orderdesk/internal/purchase"
	"github.com/orderdesk/orderdesk/internal/shared"
)

const (
	// syncStampTTL is how long a completed sync suppresses repeat pulls.
	syncStampTTL = 10 * time.Minute
	// billDueDays is the payment term written onto mirrored bills.
	billDueDays = 30
)

// FreeAgentAPI is the remote surface the service consumes. Satisfied by
// *freeagent.Client.
type FreeAgentAPI interface {
	GetCompany(ctx context.Context, accessToken string) (freeagent.CompanyProfile, error)
	ListContacts(ctx context.Context, accessToken string) ([]freeagent.Contact, error)
	ListProjects(ctx context.Context, accessToken string) ([]freeagent.Project, error)
	ListCategories(ctx context.Context, accessToken string) ([]freeagent.Category, error)
	CreateBill(ctx context.Context, accessToken string, bill freeagent.Bill) (freeagent.Bill, error)
	CreateProject(ctx context.Context, accessToken string, project freeagent.Project) (freeagent.Project, error)
}

// Tokens yields valid access tokens. Satisfied by *freeagent.TokenSource.
type Tokens interface {
	EnsureToken(ctx context.Context, companyID int64) (string, error)
}

// OrderRepo is the slice of the order repository billing needs. Satisfied by
// *purchase.PGRepository.
type OrderRepo interface {
	GetByID(ctx context.Context, companyID, orderID int64) (*purchase.PurchaseOrder, error)
	SetBillURL(ctx context.Context, companyID, orderID int64, billURL string) error
}

// AuditRecorder writes audit trail rows. Satisfied by *shared.AuditLogger.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service mirrors data between the local database and FreeAgent. Remote
// writes are local-first: the local row is never rolled back because the
// remote call failed.
type Service struct {
	repo   Repository
	orders OrderRepo
	api    FreeAgentAPI
	tokens Tokens
	cache  *redis.Client
	audit  AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// ServiceConfig collects service dependencies.
type ServiceConfig struct {
	Repo   Repository
	Orders OrderRepo
	API    FreeAgentAPI
	Tokens Tokens
	Cache  *redis.Client
	Audit  AuditRecorder
	Logger *slog.Logger
}

// NewService constructs the service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:   cfg.Repo,
		orders: cfg.Orders,
		api:    cfg.API,
		tokens: cfg.Tokens,
		cache:  cfg.Cache,
		audit:  cfg.Audit,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

// SyncCompanyData pulls the company profile, contacts, projects and
// categories from FreeAgent and replaces the cached copies. A recent sync is
// skipped unless force is set.
func (s *Service) SyncCompanyData(ctx context.Context, companyID int64, force bool) error {
	stampKey := fmt.Sprintf("integration:sync:%d", companyID)
	if !force && s.cache != nil {
		if exists, err := s.cache.Exists(ctx, stampKey).Result(); err == nil && exists > 0 {
			return nil
		}
	}

	token, err := s.tokens.EnsureToken(ctx, companyID)
	if err != nil {
		return wrapConnectionErr(err)
	}

	profile, err := s.api.GetCompany(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: fetch company profile: %v", httpx.ErrUpstream, err)
	}
	contacts, err := s.api.ListContacts(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: fetch contacts: %v", httpx.ErrUpstream, err)
	}
	projects, err := s.api.ListProjects(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: fetch projects: %v", httpx.ErrUpstream, err)
	}
	categories, err := s.api.ListCategories(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: fetch categories: %v", httpx.ErrUpstream, err)
	}

	data := CompanyData{
		Details: CompanyDetails{
			CompanyID:           companyID,
			Name:                profile.Name,
			Subdomain:           profile.Subdomain,
			Currency:            profile.Currency,
			CompanyRegistration: profile.CompanyRegistration,
		},
	}
	for _, c := range contacts {
		data.Contacts = append(data.Contacts, CachedContact{
			CompanyID: companyID,
			URL:       c.URL,
			Name:      contactName(c),
			Email:     c.Email,
		})
	}
	for _, p := range projects {
		data.Projects = append(data.Projects, CachedProject{
			CompanyID: companyID,
			URL:       p.URL,
			Name:      p.Name,
			Status:    p.Status,
			Currency:  p.Currency,
		})
	}
	for _, c := range categories {
		data.Categories = append(data.Categories, CachedCategory{
			CompanyID:   companyID,
			URL:         c.URL,
			Description: c.Description,
			NominalCode: c.NominalCode,
		})
	}

	if err := s.repo.ReplaceCompanyData(ctx, companyID, data); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, stampKey, s.now().Unix(), syncStampTTL).Err(); err != nil {
			s.logger.Warn("sync stamp write failed", slog.Int64("company_id", companyID), slog.Any("error", err))
		}
	}
	return nil
}

// CreateBillForOrder mirrors an approved order into FreeAgent as a bill and
// flips it to BILLED_IN_FREEAGENT. The order data stays untouched when the
// remote create fails.
func (s *Service) CreateBillForOrder(ctx context.Context, companyID, userID, orderID int64) (*purchase.PurchaseOrder, error) {
	order, err := s.orders.GetByID(ctx, companyID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != purchase.StatusInvoiceApproved {
		return nil, purchase.ErrStatusConflict
	}
	if order.Invoice == nil {
		return nil, fmt.Errorf("%w: order has no uploaded invoice", httpx.ErrConflict)
	}

	contactURL, err := s.repo.ContactURLByName(ctx, companyID, order.SupplierName)
	if err != nil {
		if errors.Is(err, ErrNoContact) {
			return nil, fmt.Errorf("%w: no FreeAgent contact named %q, sync company data first", httpx.ErrValidation, order.SupplierName)
		}
		return nil, err
	}

	token, err := s.tokens.EnsureToken(ctx, companyID)
	if err != nil {
		return nil, wrapConnectionErr(err)
	}

	datedOn := s.now()
	bill := freeagent.Bill{
		Contact:   contactURL,
		Reference: order.PONumber,
		DatedOn:   datedOn.Format("2006-01-02"),
		DueOn:     datedOn.AddDate(0, 0, billDueDays).Format("2006-01-02"),
		Currency:  order.Currency,
		Items: []freeagent.BillItem{{
			Description: fmt.Sprintf("Invoice %s for purchase order %s", order.Invoice.Number, order.PONumber),
			TotalValue:  order.Invoice.Amount.StringFixed(2),
		}},
	}
	created, err := s.api.CreateBill(ctx, token, bill)
	if err != nil {
		return nil, fmt.Errorf("%w: order saved locally, FreeAgent sync failed: %v", httpx.ErrUpstream, err)
	}

	if err := s.orders.SetBillURL(ctx, companyID, orderID, created.URL); err != nil {
		// The bill exists remotely; losing the race locally is reported,
		// not rolled back.
		s.logger.Error("bill created but status update failed",
			slog.Int64("order_id", orderID),
			slog.String("bill_url", created.URL),
			slog.Any("error", err))
		return nil, err
	}

	s.recordAudit(ctx, companyID, userID, "po.bill", orderID, map[string]any{"bill_url": created.URL})
	return s.orders.GetByID(ctx, companyID, orderID)
}

// CreateProjectForCompany stores a project locally, then mirrors it into
// FreeAgent. A remote failure leaves the local row behind and reports the
// degraded write to the caller.
func (s *Service) CreateProjectForCompany(ctx context.Context, companyID, userID int64, name, currency string) (*CachedProject, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", httpx.ErrValidation)
	}

	project := &CachedProject{
		CompanyID: companyID,
		Name:      name,
		Status:    "Active",
		Currency:  currency,
	}
	if err := s.repo.InsertLocalProject(ctx, project); err != nil {
		return nil, err
	}

	token, err := s.tokens.EnsureToken(ctx, companyID)
	if err != nil {
		return project, fmt.Errorf("%w: project saved locally, FreeAgent sync failed: %v", httpx.ErrUpstream, wrapConnectionErr(err))
	}
	created, err := s.api.CreateProject(ctx, token, freeagent.Project{
		Name:     name,
		Status:   "Active",
		Currency: currency,
	})
	if err != nil {
		return project, fmt.Errorf("%w: project saved locally, FreeAgent sync failed: %v", httpx.ErrUpstream, err)
	}

	if err := s.repo.SetProjectURL(ctx, project.ID, created.URL); err != nil {
		return project, err
	}
	project.URL = created.URL
	s.recordAudit(ctx, companyID, userID, "project.create", project.ID, map[string]any{"name": name})
	return project, nil
}

// CompanyDetails returns the mirrored profile, nil when never synced.
func (s *Service) CompanyDetails(ctx context.Context, companyID int64) (*CompanyDetails, error) {
	return s.repo.GetCompanyDetails(ctx, companyID)
}

// Contacts returns the cached contact list.
func (s *Service) Contacts(ctx context.Context, companyID int64) ([]CachedContact, error) {
	return s.repo.ListContacts(ctx, companyID)
}

// Projects returns the cached project list.
func (s *Service) Projects(ctx context.Context, companyID int64) ([]CachedProject, error) {
	return s.repo.ListProjects(ctx, companyID)
}

// Categories returns the cached category list.
func (s *Service) Categories(ctx context.Context, companyID int64) ([]CachedCategory, error) {
	return s.repo.ListCategories(ctx, companyID)
}

func (s *Service) recordAudit(ctx context.Context, companyID, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entity := "purchase_order"
	if action == "project.create" {
		entity = "project"
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    entity,
		EntityID:  strconv.FormatInt(entityID, 10),
		Meta:      meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func contactName(c freeagent.Contact) string {
	if c.Organisation != "" {
		return c.Organisation
	}
	name := c.FirstName
	if c.LastName != "" {
		if name != "" {
			name += " "
		}
		name += c.LastName
	}
	return name
}
