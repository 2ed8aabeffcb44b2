package purchase

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orderdesk/orderdesk/internal/mailer"
	"github.com/orderdesk/orderdesk/internal/platform/httpx"
)

type memoryRepo struct {
	mu            sync.Mutex
	nextID        int64
	orders        map[int64]*PurchaseOrder
	creatorEmails map[int64]string
	transitionErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders:        make(map[int64]*PurchaseOrder),
		creatorEmails: make(map[int64]string),
	}
}

func (m *memoryRepo) Create(ctx context.Context, order *PurchaseOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	order.ID = m.nextID
	for i := range order.Lines {
		order.Lines[i].ID = int64(i + 1)
		order.Lines[i].OrderID = order.ID
	}
	stored := *order
	m.orders[order.ID] = &stored
	m.creatorEmails[order.ID] = "buyer@example.com"
	return nil
}

func (m *memoryRepo) GetByID(ctx context.Context, companyID, orderID int64) (*PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok || order.CompanyID != companyID {
		return nil, ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *memoryRepo) GetByToken(ctx context.Context, token string) (*PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.PortalToken == token {
			copied := *order
			return &copied, nil
		}
	}
	return nil, ErrLinkNotFound
}

func (m *memoryRepo) List(ctx context.Context, companyID int64, filter ListFilter) ([]PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PurchaseOrder
	for _, order := range m.orders {
		if order.CompanyID != companyID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(order.PONumber, filter.Search) && !strings.Contains(order.SupplierName, filter.Search) {
			continue
		}
		out = append(out, *order)
	}
	return out, nil
}

func (m *memoryRepo) Transition(ctx context.Context, companyID, orderID int64, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return m.transitionErr
	}
	order, ok := m.orders[orderID]
	if !ok || order.CompanyID != companyID || order.Status != from {
		return ErrStatusConflict
	}
	order.Status = to
	return nil
}

func (m *memoryRepo) TransitionByToken(ctx context.Context, orderID int64, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok || order.Status != from {
		return ErrStatusConflict
	}
	order.Status = to
	return nil
}

func (m *memoryRepo) Cancel(ctx context.Context, companyID, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok || order.CompanyID != companyID || order.Status.Terminal() {
		return ErrStatusConflict
	}
	order.Status = StatusCancelled
	return nil
}

func (m *memoryRepo) AddInvoice(ctx context.Context, inv *UploadedInvoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[inv.OrderID]
	if !ok || order.Status != StatusAcceptedBySupplier {
		return ErrStatusConflict
	}
	inv.ID = 1
	stored := *inv
	order.Invoice = &stored
	order.Status = StatusInvoiceUploaded
	return nil
}

func (m *memoryRepo) SetBillURL(ctx context.Context, companyID, orderID int64, billURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok || order.CompanyID != companyID || order.Status != StatusInvoiceApproved {
		return ErrStatusConflict
	}
	order.BillURL = billURL
	order.Status = StatusBilledInFreeAgent
	return nil
}

func (m *memoryRepo) CreatorEmail(ctx context.Context, orderID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.creatorEmails[orderID]
	if !ok {
		return "", ErrOrderNotFound
	}
	return email, nil
}

type captureMailer struct {
	mu       sync.Mutex
	messages []mailer.Message
	err      error
}

func (c *captureMailer) Send(ctx context.Context, msg mailer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, msg)
	return nil
}

type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{objects: make(map[string][]byte)}
}

func (m *memoryObjectStore) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

type stubNotifier struct {
	mu    sync.Mutex
	notes []SupplierResponseNote
}

func (s *stubNotifier) SupplierResponded(ctx context.Context, note SupplierResponseNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, note)
	return nil
}

type fixture struct {
	repo     *memoryRepo
	mail     *captureMailer
	store    *memoryObjectStore
	notifier *stubNotifier
	service  *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newMemoryRepo(),
		mail:     &captureMailer{},
		store:    newMemoryObjectStore(),
		notifier: &stubNotifier{},
	}
	f.service = NewService(ServiceConfig{
		Repo:       f.repo,
		Store:      f.store,
		Mail:       f.mail,
		Notifier:   f.notifier,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		AppBaseURL: "https://orderdesk.example.com",
	})
	return f
}

func sampleRequest() CreateOrderRequest {
	return CreateOrderRequest{
		PONumber:      "PO-1001",
		SupplierName:  "Acme Supplies",
		SupplierEmail: "supplier@example.com",
		Currency:      "GBP",
		Lines: []CreateOrderLine{
			{Description: "Widgets", Quantity: "2", UnitPrice: "50.00"},
		},
	}
}

func TestCreateComputesTotalAndIssuesToken(t *testing.T) {
	f := newFixture()
	order, err := f.service.Create(context.Background(), 1, 7, sampleRequest())
	require.NoError(t, err)
	require.Equal(t, StatusDraft, order.Status)
	require.Equal(t, "100.00", order.Total().StringFixed(2))
	require.NotEmpty(t, order.PortalToken)
	require.EqualValues(t, 1, order.CompanyID)
	require.EqualValues(t, 7, order.CreatedBy)
}

func TestCreateRejectsUnknownCurrency(t *testing.T) {
	f := newFixture()
	req := sampleRequest()
	req.Currency = "XXZ"
	_, err := f.service.Create(context.Background(), 1, 7, req)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateRejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture()
	req := sampleRequest()
	req.Lines[0].Quantity = "0"
	_, err := f.service.Create(context.Background(), 1, 7, req)
	require.ErrorIs(t, err, httpx.ErrValidation)

	req.Lines[0].Quantity = "2"
	req.Lines[0].UnitPrice = "-1"
	_, err = f.service.Create(context.Background(), 1, 7, req)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.service.Create(ctx, 1, 7, sampleRequest())
	require.NoError(t, err)

	degraded, err := f.service.Send(ctx, 1, 7, order.ID)
	require.NoError(t, err)
	require.False(t, degraded)
	require.Len(t, f.mail.messages, 1)
	require.Equal(t, "supplier@example.com", f.mail.messages[0].To)
	require.Contains(t, f.mail.messages[0].HTML, "/portal/"+order.PortalToken)
	require.Contains(t, f.mail.messages[0].HTML, "GBP 100.00")

	responded, err := f.service.RespondByToken(ctx, order.PortalToken, true)
	require.NoError(t, err)
	require.Equal(t, StatusAcceptedBySupplier, responded.Status)
	require.Len(t, f.notifier.notes, 1)
	require.Equal(t, "buyer@example.com", f.notifier.notes[0].BuyerEmail)
	require.True(t, f.notifier.notes[0].Accepted)

	inv, err := f.service.UploadInvoiceByToken(ctx, order.PortalToken, InvoiceUpload{
		Number:      "INV-9",
		Amount:      "100.00",
		Filename:    "invoice.pdf",
		ContentType: "application/pdf",
		File:        bytes.NewReader([]byte("%PDF-1.4")),
	})
	require.NoError(t, err)
	require.Len(t, f.store.objects, 1)
	require.Equal(t, []byte("%PDF-1.4"), f.store.objects[inv.ObjectKey])

	require.NoError(t, f.service.SubmitInvoiceForApproval(ctx, 1, 7, order.ID))
	require.NoError(t, f.service.ApproveInvoice(ctx, 1, 7, order.ID))

	require.NoError(t, f.repo.SetBillURL(ctx, 1, order.ID, "https://api.freeagent.com/v2/bills/1"))
	require.NoError(t, f.service.Close(ctx, 1, 7, order.ID))

	final, err := f.service.Get(ctx, 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, final.Status)
	require.Equal(t, "https://api.freeagent.com/v2/bills/1", final.BillURL)
}

func TestSendNonDraftConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.service.Create(ctx, 1, 7, sampleRequest())
	require.NoError(t, err)

	_, err = f.service.Send(ctx, 1, 7, order.ID)
	require.NoError(t, err)

	_, err = f.service.Send(ctx, 1, 7, order.ID)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Len(t, f.mail.messages, 1)
}

func TestSendMailFailureKeepsDraft(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.service.Create(ctx, 1, 7, sampleRequest())
	require.NoError(t, err)

	f.mail.err = httpx.ErrUpstream
	_, err = f.service.Send(ctx, 1, 7, order.ID)
	require.ErrorIs(t, err, httpx.ErrUpstream)

	stored, err := f.service.Get(ctx, 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
}

func TestSendDegradedWhenFlipFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.service.Create(ctx, 1, 7, sampleRequest())
	require.NoError(t, err)

	f.repo.transitionErr = ErrStatusConflict
	degraded, err := f.service.Send(ctx, 1, 7, order.ID)
	require.NoError(t, err)
	require.True(t, degraded)
	require.Len(t, f.mail.messages, 1)
}

func TestRespondByTokenReplayConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.service.Create(ctx, 1, 7, sampleRequest())
	require.NoError(t, err)
	_, err = f.service.Send(ctx, 1, 7, order.ID)
	require.NoError(t, err)

	_, err = f.service.RespondByToken(ctx, order.PortalToken, false)
	require.NoError(t, err)

	_, err = f.service.RespondByToken(ctx, order.PortalToken, true)
	require.ErrorIs(t, err, httpx.ErrConflict)

	stored, err := f.service.Get(ctx, 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejectedBySupplier, stored.Status)
}

func TestRespondByTokenUnknownToken(t *testing.T) {
	f := newFixture()
	_, err := f.service.RespondByToken(context.Background(), "no-such-token", true)
	require.ErrorIs(t, err, ErrLinkNotFound)
	require.Empty(t, f.notifier.notes)
}

func TestUploadInvoiceBeforeAcceptance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.service.Create(ctx, 1, 7, sampleRequest())
	require.NoError(t, err)
	_, err = f.service.Send(ctx, 1, 7, order.ID)
	require.NoError(t, err)

	_, err = f.service.UploadInvoiceByToken(ctx, order.PortalToken, InvoiceUpload{
		Number:      "INV-9",
		Amount:      "100.00",
		Filename:    "invoice.pdf",
		ContentType: "application/pdf",
		File:        bytes.NewReader([]byte("data")),
	})
	require.ErrorIs(t, err, httpx.ErrConflict)
	// Nothing may reach object storage when the precondition fails.
	require.Empty(t, f.store.objects)
}

func TestUploadInvoiceValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.service.Create(ctx, 1, 7, sampleRequest())
	require.NoError(t, err)
	_, err = f.service.Send(ctx, 1, 7, order.ID)
	require.NoError(t, err)
	_, err = f.service.RespondByToken(ctx, order.PortalToken, true)
	require.NoError(t, err)

	for _, upload := range []InvoiceUpload{
		{Amount: "100.00", Filename: "a.pdf", File: bytes.NewReader(nil)},
		{Number: "INV-9", Amount: "nope", Filename: "a.pdf", File: bytes.NewReader(nil)},
		{Number: "INV-9", Amount: "-5", Filename: "a.pdf", File: bytes.NewReader(nil)},
		{Number: "INV-9", Amount: "100.00"},
	} {
		_, err := f.service.UploadInvoiceByToken(ctx, order.PortalToken, upload)
		require.ErrorIs(t, err, httpx.ErrValidation)
	}
	require.Empty(t, f.store.objects)
}

func TestCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.service.Create(ctx, 1, 7, sampleRequest())
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(ctx, 1, 7, order.ID))
	require.ErrorIs(t, f.service.Cancel(ctx, 1, 7, order.ID), httpx.ErrConflict)
}

func TestListFilters(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.service.Create(ctx, 1, 7, sampleRequest())
	require.NoError(t, err)
	other := sampleRequest()
	other.PONumber = "PO-2002"
	other.SupplierName = "Borealis Ltd"
	_, err = f.service.Create(ctx, 1, 7, other)
	require.NoError(t, err)

	orders, err := f.service.List(ctx, 1, ListFilter{Search: "Borealis"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "PO-2002", orders[0].PONumber)

	_, err = f.service.List(ctx, 1, ListFilter{Status: "NOT_A_STATUS"})
	require.ErrorIs(t, err, httpx.ErrValidation)

	orders, err = f.service.List(ctx, 2, ListFilter{})
	require.NoError(t, err)
	require.Empty(t, orders)
}
