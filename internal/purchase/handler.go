package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/orderdesk/orderdesk/internal/platform/httpx"
	"github.com/orderdesk/orderdesk/internal/shared"
)

// Biller mirrors an approved order into the accounting system. Satisfied by
// *integration.Service.
type Biller interface {
	CreateBillForOrder(ctx context.Context, companyID, userID, orderID int64) (*PurchaseOrder, error)
}

// Handler serves the session-authenticated order API.
type Handler struct {
	service  *Service
	biller   Biller
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(service *Service, biller Biller, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		biller:   biller,
		logger:   logger,
		validate: validator.New(),
	}
}

// MountRoutes attaches order routes under /orders.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{orderID}", h.get)
	r.Post("/{orderID}/send", h.send)
	r.Post("/{orderID}/invoice/submit", h.submitInvoice)
	r.Post("/{orderID}/invoice/approve", h.approveInvoice)
	r.Post("/{orderID}/bill", h.bill)
	r.Post("/{orderID}/close", h.close)
	r.Post("/{orderID}/cancel", h.cancel)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	companyID := shared.CompanyIDFromContext(r.Context())
	filter := ListFilter{
		Status: Status(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("q"),
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	orders, err := h.service.List(r.Context(), companyID, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]orderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, newOrderResponse(&orders[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": items})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	ctx := r.Context()
	order, err := h.service.Create(ctx, shared.CompanyIDFromContext(ctx), shared.UserIDFromContext(ctx), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newOrderResponse(order))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Get(r.Context(), shared.CompanyIDFromContext(r.Context()), orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	degraded, err := h.service.Send(ctx, shared.CompanyIDFromContext(ctx), shared.UserIDFromContext(ctx), orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sent": true, "degraded": degraded})
}

func (h *Handler) submitInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.SubmitInvoiceForApproval)
}

func (h *Handler) approveInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ApproveInvoice)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Close)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, companyID, userID, orderID int64) error) {
	orderID, err := orderIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	if err := op(ctx, shared.CompanyIDFromContext(ctx), shared.UserIDFromContext(ctx), orderID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Get(ctx, shared.CompanyIDFromContext(ctx), orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) bill(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	order, err := h.biller.CreateBillForOrder(ctx, shared.CompanyIDFromContext(ctx), shared.UserIDFromContext(ctx), orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderResponse(order))
}

func orderIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: order id must be a positive integer", httpx.ErrValidation)
	}
	return id, nil
}
