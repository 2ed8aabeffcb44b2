package purchase

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/orderdesk/orderdesk/internal/platform/httpx"
)

// CreateOrderLine is one requested line in a create call.
type CreateOrderLine struct {
	Description string `json:"description" validate:"required,max=500"`
	Quantity    string `json:"quantity" validate:"required"`
	UnitPrice   string `json:"unit_price" validate:"required"`
}

// CreateOrderRequest is the payload for creating a draft order.
type CreateOrderRequest struct {
	PONumber      string            `json:"po_number" validate:"required,max=64"`
	SupplierName  string            `json:"supplier_name" validate:"required,max=200"`
	SupplierEmail string            `json:"supplier_email" validate:"required,email"`
	Currency      string            `json:"currency" validate:"required,len=3"`
	Notes         string            `json:"notes" validate:"max=2000"`
	Lines         []CreateOrderLine `json:"lines" validate:"required,min=1,dive"`
}

// toOrder parses the request into a draft order. Quantities must be
// positive and unit prices non-negative; the currency must be ISO 4217.
func (r CreateOrderRequest) toOrder() (*PurchaseOrder, error) {
	code := strings.ToUpper(strings.TrimSpace(r.Currency))
	if _, err := currency.ParseISO(code); err != nil {
		return nil, fmt.Errorf("%w: unknown currency %q", httpx.ErrValidation, r.Currency)
	}

	order := &PurchaseOrder{
		PONumber:      strings.TrimSpace(r.PONumber),
		SupplierName:  strings.TrimSpace(r.SupplierName),
		SupplierEmail: strings.TrimSpace(r.SupplierEmail),
		Currency:      code,
		Notes:         strings.TrimSpace(r.Notes),
		Status:        StatusDraft,
	}
	for i, in := range r.Lines {
		qty, err := decimal.NewFromString(in.Quantity)
		if err != nil || !qty.IsPositive() {
			return nil, fmt.Errorf("%w: line %d quantity must be a positive number", httpx.ErrValidation, i+1)
		}
		price, err := decimal.NewFromString(in.UnitPrice)
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("%w: line %d unit price must be a non-negative number", httpx.ErrValidation, i+1)
		}
		order.Lines = append(order.Lines, Line{
			Description: strings.TrimSpace(in.Description),
			Quantity:    qty,
			UnitPrice:   price,
		})
	}
	return order, nil
}

// RespondRequest is the supplier's decision on a sent order.
type RespondRequest struct {
	Action string `json:"action" validate:"required,oneof=accept reject"`
}

// orderResponse is the JSON view of an order returned to tenants.
type orderResponse struct {
	*PurchaseOrder
	Total string `json:"total"`
}

func newOrderResponse(order *PurchaseOrder) orderResponse {
	return orderResponse{PurchaseOrder: order, Total: order.Total().StringFixed(2)}
}

// portalOrderResponse is the reduced view shown to suppliers. It omits
// internal identifiers and the bill URL.
type portalOrderResponse struct {
	PONumber     string           `json:"po_number"`
	SupplierName string           `json:"supplier_name"`
	Currency     string           `json:"currency"`
	Status       Status           `json:"status"`
	Notes        string           `json:"notes,omitempty"`
	Lines        []Line           `json:"lines"`
	Invoice      *UploadedInvoice `json:"invoice,omitempty"`
	Total        string           `json:"total"`
}

func newPortalOrderResponse(order *PurchaseOrder) portalOrderResponse {
	return portalOrderResponse{
		PONumber:     order.PONumber,
		SupplierName: order.SupplierName,
		Currency:     order.Currency,
		Status:       order.Status,
		Notes:        order.Notes,
		Lines:        order.Lines,
		Invoice:      order.Invoice,
		Total:        order.Total().StringFixed(2),
	}
}
