// Package purchase implements the purchase order lifecycle: drafting,
// sending to suppliers, recording their response, invoice intake and the
// approval chain up to billing and closure.
package purchase

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orderdesk/orderdesk/internal/platform/httpx"
)

// Status is the lifecycle state of a purchase order.
type Status string

const (
	StatusDraft                  Status = "DRAFT"
	StatusSentToSupplier         Status = "SENT_TO_SUPPLIER"
	StatusAcceptedBySupplier     Status = "ACCEPTED_BY_SUPPLIER"
	StatusRejectedBySupplier     Status = "REJECTED_BY_SUPPLIER"
	StatusInvoiceUploaded        Status = "INVOICE_UPLOADED"
	StatusInvoicePendingApproval Status = "INVOICE_PENDING_APPROVAL"
	StatusInvoiceApproved        Status = "INVOICE_APPROVED"
	StatusBilledInFreeAgent      Status = "BILLED_IN_FREEAGENT"
	StatusClosed                 Status = "CLOSED"
	StatusCancelled              Status = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// Valid reports whether the value is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSentToSupplier, StatusAcceptedBySupplier,
		StatusRejectedBySupplier, StatusInvoiceUploaded, StatusInvoicePendingApproval,
		StatusInvoiceApproved, StatusBilledInFreeAgent, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// Domain errors, mapped to HTTP status codes by httpx.RespondError.
var (
	ErrOrderNotFound = fmt.Errorf("%w: purchase order", httpx.ErrNotFound)
	// ErrLinkNotFound is deliberately generic: a malformed token and a
	// deleted order must be indistinguishable to the caller.
	ErrLinkNotFound   = fmt.Errorf("%w: invalid or expired link", httpx.ErrNotFound)
	ErrStatusConflict = fmt.Errorf("%w: order is not in the required status", httpx.ErrConflict)
)

// Line is a single purchase order line.
type Line struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"-"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Total returns quantity times unit price.
func (l Line) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// UploadedInvoice is a supplier invoice attached to an order through the
// portal. The file itself lives in object storage under ObjectKey.
type UploadedInvoice struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"-"`
	Number      string          `json:"number"`
	Amount      decimal.Decimal `json:"amount"`
	ObjectKey   string          `json:"-"`
	Filename    string          `json:"filename"`
	ContentType string          `json:"-"`
	UploadedAt  time.Time       `json:"uploaded_at"`
}

// PurchaseOrder is the aggregate root of this package.
type PurchaseOrder struct {
	ID            int64            `json:"id"`
	CompanyID     int64            `json:"-"`
	PONumber      string           `json:"po_number"`
	SupplierName  string           `json:"supplier_name"`
	SupplierEmail string           `json:"supplier_email"`
	Currency      string           `json:"currency"`
	Status        Status           `json:"status"`
	PortalToken   string           `json:"-"`
	BillURL       string           `json:"freeagent_bill_url,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	CreatedBy     int64            `json:"-"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Lines         []Line           `json:"lines,omitempty"`
	Invoice       *UploadedInvoice `json:"invoice,omitempty"`
}

// Total sums all line totals.
func (o *PurchaseOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Total())
	}
	return total
}
