package purchase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orderdesk/orderdesk/internal/mailer"
	"github.com/orderdesk/orderdesk/internal/platform/httpx"
	"github.com/orderdesk/orderdesk/internal/shared"
	"github.com/orderdesk/orderdesk/internal/storage"
)

// Mailer delivers supplier-facing email. Satisfied by *mailer.Client.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// ObjectStore persists uploaded invoice files. Satisfied by *storage.S3Store.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
}

// SupplierResponseNote carries everything the buyer notification needs, so
// the queue consumer does not have to look anything up.
type SupplierResponseNote struct {
	CompanyID    int64  `json:"company_id"`
	OrderID      int64  `json:"order_id"`
	PONumber     string `json:"po_number"`
	SupplierName string `json:"supplier_name"`
	BuyerEmail   string `json:"buyer_email"`
	Accepted     bool   `json:"accepted"`
}

// Notifier enqueues buyer notifications. Satisfied by *jobs.Client.
type Notifier interface {
	SupplierResponded(ctx context.Context, note SupplierResponseNote) error
}

// AuditRecorder writes audit trail rows. Satisfied by *shared.AuditLogger.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements the order lifecycle on top of the repository.
type Service struct {
	repo    Repository
	store   ObjectStore
	mail    Mailer
	notify  Notifier
	audit   AuditRecorder
	logger  *slog.Logger
	baseURL string
	now     func() time.Time
}

// ServiceConfig collects service dependencies.
type ServiceConfig struct {
	Repo       Repository
	Store      ObjectStore
	Mail       Mailer
	Notifier   Notifier
	Audit      AuditRecorder
	Logger     *slog.Logger
	AppBaseURL string
}

// NewService constructs the service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:    cfg.Repo,
		store:   cfg.Store,
		mail:    cfg.Mail,
		notify:  cfg.Notifier,
		audit:   cfg.Audit,
		logger:  cfg.Logger,
		baseURL: strings.TrimRight(cfg.AppBaseURL, "/"),
		now:     time.Now,
	}
}

// Create validates and stores a draft order with a fresh portal token.
func (s *Service) Create(ctx context.Context, companyID, userID int64, req CreateOrderRequest) (*PurchaseOrder, error) {
	order, err := req.toOrder()
	if err != nil {
		return nil, err
	}
	token, err := shared.NewPortalToken()
	if err != nil {
		return nil, fmt.Errorf("purchase: generate portal token: %w", err)
	}
	order.CompanyID = companyID
	order.CreatedBy = userID
	order.PortalToken = token

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, companyID, userID, "po.create", order.ID, map[string]any{"po_number": order.PONumber})
	return order, nil
}

// Get returns one order scoped to the company.
func (s *Service) Get(ctx context.Context, companyID, orderID int64) (*PurchaseOrder, error) {
	return s.repo.GetByID(ctx, companyID, orderID)
}

// List returns filtered orders scoped to the company.
func (s *Service) List(ctx context.Context, companyID int64, filter ListFilter) ([]PurchaseOrder, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, filter.Status)
	}
	return s.repo.List(ctx, companyID, filter)
}

// Send emails the supplier a portal link, then flips the order from DRAFT to
// SENT_TO_SUPPLIER. The email goes first: a failed send leaves the order in
// DRAFT. If the status flip fails after a successful send the supplier has
// already been contacted, so the call reports degraded success rather than
// pretending the send did not happen.
func (s *Service) Send(ctx context.Context, companyID, userID, orderID int64) (degraded bool, err error) {
	order, err := s.repo.GetByID(ctx, companyID, orderID)
	if err != nil {
		return false, err
	}
	if order.Status != StatusDraft {
		return false, ErrStatusConflict
	}

	link := fmt.Sprintf("%s/portal/%s", s.baseURL, order.PortalToken)
	msg := mailer.Message{
		To:      order.SupplierEmail,
		Subject: fmt.Sprintf("Purchase order %s", order.PONumber),
		HTML:    supplierEmailBody(order, link),
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		return false, err
	}

	if err := s.repo.Transition(ctx, companyID, orderID, StatusDraft, StatusSentToSupplier); err != nil {
		s.logger.Error("order emailed but status update failed",
			slog.Int64("order_id", orderID),
			slog.Any("error", err))
		// Durable marker for later reconciliation: the email went out but
		// the order still reads DRAFT.
		s.recordAudit(ctx, companyID, userID, "po.send_pending", orderID, map[string]any{"supplier_email": order.SupplierEmail})
		return true, nil
	}
	s.recordAudit(ctx, companyID, userID, "po.send", orderID, map[string]any{"supplier_email": order.SupplierEmail})
	return false, nil
}

// GetByToken returns the order behind a portal token.
func (s *Service) GetByToken(ctx context.Context, token string) (*PurchaseOrder, error) {
	return s.repo.GetByToken(ctx, token)
}

// RespondByToken records the supplier's accept or reject decision. Only an
// order in SENT_TO_SUPPLIER can be answered; a replayed link gets a conflict.
func (s *Service) RespondByToken(ctx context.Context, token string, accept bool) (*PurchaseOrder, error) {
	order, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	to := StatusRejectedBySupplier
	if accept {
		to = StatusAcceptedBySupplier
	}
	if err := s.repo.TransitionByToken(ctx, order.ID, StatusSentToSupplier, to); err != nil {
		return nil, err
	}
	order.Status = to

	s.recordAudit(ctx, order.CompanyID, 0, "po.supplier_respond", order.ID, map[string]any{"accepted": accept})
	s.enqueueBuyerNote(ctx, order, accept)
	return order, nil
}

// InvoiceUpload is the file and metadata a supplier submits.
type InvoiceUpload struct {
	Number      string
	Amount      string
	Filename    string
	ContentType string
	File        io.Reader
}

// UploadInvoiceByToken stores the invoice file and records it against the
// order. The order must be ACCEPTED_BY_SUPPLIER; nothing is written to
// object storage otherwise. The file goes to storage before the database
// row, so an interrupted upload leaves at worst an orphan object.
func (s *Service) UploadInvoiceByToken(ctx context.Context, token string, upload InvoiceUpload) (*UploadedInvoice, error) {
	order, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusAcceptedBySupplier {
		return nil, ErrStatusConflict
	}

	number := strings.TrimSpace(upload.Number)
	if number == "" {
		return nil, fmt.Errorf("%w: invoice number is required", httpx.ErrValidation)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(upload.Amount))
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: invoice amount must be a positive number", httpx.ErrValidation)
	}
	if upload.Filename == "" || upload.File == nil {
		return nil, fmt.Errorf("%w: invoice file is required", httpx.ErrValidation)
	}
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := storage.InvoiceKey(order.CompanyID, order.ID, upload.Filename, s.now())
	if err := s.store.Put(ctx, key, contentType, upload.File); err != nil {
		return nil, err
	}

	inv := &UploadedInvoice{
		OrderID:     order.ID,
		Number:      number,
		Amount:      amount,
		ObjectKey:   key,
		Filename:    upload.Filename,
		ContentType: contentType,
	}
	if err := s.repo.AddInvoice(ctx, inv); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, order.CompanyID, 0, "po.invoice_upload", order.ID, map[string]any{"invoice_number": number})
	return inv, nil
}

// SubmitInvoiceForApproval moves INVOICE_UPLOADED to INVOICE_PENDING_APPROVAL.
func (s *Service) SubmitInvoiceForApproval(ctx context.Context, companyID, userID, orderID int64) error {
	if err := s.repo.Transition(ctx, companyID, orderID, StatusInvoiceUploaded, StatusInvoicePendingApproval); err != nil {
		return err
	}
	s.recordAudit(ctx, companyID, userID, "po.invoice_submit", orderID, nil)
	return nil
}

// ApproveInvoice moves INVOICE_PENDING_APPROVAL to INVOICE_APPROVED.
func (s *Service) ApproveInvoice(ctx context.Context, companyID, userID, orderID int64) error {
	if err := s.repo.Transition(ctx, companyID, orderID, StatusInvoicePendingApproval, StatusInvoiceApproved); err != nil {
		return err
	}
	s.recordAudit(ctx, companyID, userID, "po.invoice_approve", orderID, nil)
	return nil
}

// Close moves BILLED_IN_FREEAGENT to CLOSED.
func (s *Service) Close(ctx context.Context, companyID, userID, orderID int64) error {
	if err := s.repo.Transition(ctx, companyID, orderID, StatusBilledInFreeAgent, StatusClosed); err != nil {
		return err
	}
	s.recordAudit(ctx, companyID, userID, "po.close", orderID, nil)
	return nil
}

// Cancel moves any non-terminal order to CANCELLED.
func (s *Service) Cancel(ctx context.Context, companyID, userID, orderID int64) error {
	if err := s.repo.Cancel(ctx, companyID, orderID); err != nil {
		return err
	}
	s.recordAudit(ctx, companyID, userID, "po.cancel", orderID, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, companyID, actorID int64, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "purchase_order",
		EntityID:  strconv.FormatInt(orderID, 10),
		Meta:      meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) enqueueBuyerNote(ctx context.Context, order *PurchaseOrder, accepted bool) {
	if s.notify == nil {
		return
	}
	buyerEmail, err := s.repo.CreatorEmail(ctx, order.ID)
	if err != nil {
		s.logger.Warn("resolve buyer email", slog.Int64("order_id", order.ID), slog.Any("error", err))
		return
	}
	note := SupplierResponseNote{
		CompanyID:    order.CompanyID,
		OrderID:      order.ID,
		PONumber:     order.PONumber,
		SupplierName: order.SupplierName,
		BuyerEmail:   buyerEmail,
		Accepted:     accepted,
	}
	if err := s.notify.SupplierResponded(ctx, note); err != nil {
		s.logger.Warn("enqueue buyer notification", slog.Int64("order_id", order.ID), slog.Any("error", err))
	}
}

func supplierEmailBody(order *PurchaseOrder, link string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>You have received purchase order <strong>%s</strong>.</p>", order.PONumber)
	b.WriteString("<ul>")
	for _, line := range order.Lines {
		fmt.Fprintf(&b, "<li>%s: %s x %s %s</li>", line.Description, line.Quantity.String(), order.Currency, line.UnitPrice.StringFixed(2))
	}
	b.WriteString("</ul>")
	fmt.Fprintf(&b, "<p>Total: %s %s</p>", order.Currency, order.Total().StringFixed(2))
	fmt.Fprintf(&b, `<p><a href="%s">Review and respond</a></p>`, link)
	return b.String()
}
