package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderdesk/orderdesk/internal/platform/db"
)

// ListFilter narrows List results.
type ListFilter struct {
	Status Status
	Search string
	Limit  int
	Offset int
}

// Repository is the persistence surface the service depends on.
type Repository interface {
	Create(ctx context.Context, order *PurchaseOrder) error
	GetByID(ctx context.Context, companyID, orderID int64) (*PurchaseOrder, error)
	GetByToken(ctx context.Context, token string) (*PurchaseOrder, error)
	List(ctx context.Context, companyID int64, filter ListFilter) ([]PurchaseOrder, error)
	TransitionByToken(ctx context.Context, orderID int64, from, to Status) error
	Transition(ctx context.Context, companyID, orderID int64, from, to Status) error
	Cancel(ctx context.Context, companyID, orderID int64) error
	AddInvoice(ctx context.Context, inv *UploadedInvoice) error
	SetBillURL(ctx context.Context, companyID, orderID int64, billURL string) error
	CreatorEmail(ctx context.Context, orderID int64) (string, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const orderColumns = `id, company_id, po_number, supplier_name, supplier_email, currency, status, supplier_portal_token, COALESCE(freeagent_bill_url, ''), COALESCE(notes, ''), created_by, created_at, updated_at`

// Create inserts the order, its lines and the portal token in one transaction.
func (r *PGRepository) Create(ctx context.Context, order *PurchaseOrder) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const insertOrder = `
			INSERT INTO purchase_orders (company_id, po_number, supplier_name, supplier_email, currency, status, supplier_portal_token, notes, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, NOW(), NOW())
			RETURNING id, created_at, updated_at`
		err := tx.QueryRow(ctx, insertOrder,
			order.CompanyID, order.PONumber, order.SupplierName, order.SupplierEmail,
			order.Currency, order.Status, order.PortalToken, order.Notes, order.CreatedBy,
		).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("purchase: insert order: %w", err)
		}

		const insertLine = `
			INSERT INTO po_lines (order_id, description, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id`
		for i := range order.Lines {
			line := &order.Lines[i]
			line.OrderID = order.ID
			if err := tx.QueryRow(ctx, insertLine, order.ID, line.Description, line.Quantity, line.UnitPrice).Scan(&line.ID); err != nil {
				return fmt.Errorf("purchase: insert line: %w", err)
			}
		}
		return nil
	})
}

// GetByID loads a single order with lines and the latest invoice, scoped to
// the given company.
func (r *PGRepository) GetByID(ctx context.Context, companyID, orderID int64) (*PurchaseOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE id = $1 AND company_id = $2`
	return r.loadOne(ctx, query, orderID, companyID)
}

// GetByToken loads an order by its portal token. The lookup is an exact
// match only; any miss surfaces as ErrLinkNotFound.
func (r *PGRepository) GetByToken(ctx context.Context, token string) (*PurchaseOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE supplier_portal_token = $1`
	order, err := r.loadOne(ctx, query, token)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return order, nil
}

func (r *PGRepository) loadOne(ctx context.Context, query string, args ...any) (*PurchaseOrder, error) {
	var order PurchaseOrder
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&order.ID, &order.CompanyID, &order.PONumber, &order.SupplierName, &order.SupplierEmail,
		&order.Currency, &order.Status, &order.PortalToken, &order.BillURL, &order.Notes,
		&order.CreatedBy, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("purchase: load order: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, order_id, description, quantity, unit_price FROM po_lines WHERE order_id = $1 ORDER BY id`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("purchase: load lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OrderID, &line.Description, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, fmt.Errorf("purchase: scan line: %w", err)
		}
		order.Lines = append(order.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("purchase: iterate lines: %w", err)
	}

	var inv UploadedInvoice
	err = r.pool.QueryRow(ctx, `SELECT id, order_id, invoice_number, amount, object_key, filename, content_type, uploaded_at FROM uploaded_invoices WHERE order_id = $1 ORDER BY uploaded_at DESC LIMIT 1`, order.ID).Scan(
		&inv.ID, &inv.OrderID, &inv.Number, &inv.Amount, &inv.ObjectKey, &inv.Filename, &inv.ContentType, &inv.UploadedAt,
	)
	switch {
	case err == nil:
		order.Invoice = &inv
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, fmt.Errorf("purchase: load invoice: %w", err)
	}

	return &order, nil
}

// List returns company-scoped orders, newest first.
func (r *PGRepository) List(ctx context.Context, companyID int64, filter ListFilter) ([]PurchaseOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE company_id = $1`
	args := []any{companyID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		query += fmt.Sprintf(" AND (po_number ILIKE $%d OR supplier_name ILIKE $%d)", len(args), len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("purchase: list orders: %w", err)
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		var order PurchaseOrder
		if err := rows.Scan(
			&order.ID, &order.CompanyID, &order.PONumber, &order.SupplierName, &order.SupplierEmail,
			&order.Currency, &order.Status, &order.PortalToken, &order.BillURL, &order.Notes,
			&order.CreatedBy, &order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("purchase: scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// Transition flips the status only when the current status matches. Zero
// affected rows means the precondition failed and the caller gets
// ErrStatusConflict; the check and the write are a single statement so two
// racing requests cannot both win.
func (r *PGRepository) Transition(ctx context.Context, companyID, orderID int64, from, to Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE purchase_orders SET status = $1, updated_at = NOW() WHERE id = $2 AND company_id = $3 AND status = $4`,
		to, orderID, companyID, from)
	if err != nil {
		return fmt.Errorf("purchase: transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// TransitionByToken is Transition for portal actions, where the token lookup
// already established the order identity and there is no session scope.
func (r *PGRepository) TransitionByToken(ctx context.Context, orderID int64, from, to Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE purchase_orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, orderID, from)
	if err != nil {
		return fmt.Errorf("purchase: transition by token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// Cancel moves any non-terminal order to CANCELLED.
func (r *PGRepository) Cancel(ctx context.Context, companyID, orderID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE purchase_orders SET status = $1, updated_at = NOW() WHERE id = $2 AND company_id = $3 AND status NOT IN ($4, $5)`,
		StatusCancelled, orderID, companyID, StatusClosed, StatusCancelled)
	if err != nil {
		return fmt.Errorf("purchase: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// AddInvoice inserts the invoice record and flips the order to
// INVOICE_UPLOADED in one transaction. The object upload happens before this
// call, so a crash in between leaves an orphan object in storage but never a
// row pointing at a missing file.
func (r *PGRepository) AddInvoice(ctx context.Context, inv *UploadedInvoice) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const insert = `
			INSERT INTO uploaded_invoices (order_id, invoice_number, amount, object_key, filename, content_type, uploaded_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			RETURNING id, uploaded_at`
		if err := tx.QueryRow(ctx, insert, inv.OrderID, inv.Number, inv.Amount, inv.ObjectKey, inv.Filename, inv.ContentType).Scan(&inv.ID, &inv.UploadedAt); err != nil {
			return fmt.Errorf("purchase: insert invoice: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE purchase_orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
			StatusInvoiceUploaded, inv.OrderID, StatusAcceptedBySupplier)
		if err != nil {
			return fmt.Errorf("purchase: flip to invoice uploaded: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrStatusConflict
		}
		return nil
	})
}

// SetBillURL records the mirrored FreeAgent bill and flips the order to
// BILLED_IN_FREEAGENT, conditional on INVOICE_APPROVED.
func (r *PGRepository) SetBillURL(ctx context.Context, companyID, orderID int64, billURL string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE purchase_orders SET status = $1, freeagent_bill_url = $2, updated_at = NOW() WHERE id = $3 AND company_id = $4 AND status = $5`,
		StatusBilledInFreeAgent, billURL, orderID, companyID, StatusInvoiceApproved)
	if err != nil {
		return fmt.Errorf("purchase: set bill url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// CreatorEmail resolves the email address of the user who created the order.
func (r *PGRepository) CreatorEmail(ctx context.Context, orderID int64) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx,
		`SELECT u.email FROM purchase_orders o JOIN users u ON u.id = o.created_by WHERE o.id = $1`,
		orderID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrOrderNotFound
		}
		return "", fmt.Errorf("purchase: creator email: %w", err)
	}
	return email, nil
}
