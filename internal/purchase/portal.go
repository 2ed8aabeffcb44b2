package purchase

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/orderdesk/orderdesk/internal/platform/httpx"
)

// maxInvoiceUploadBytes caps the multipart body of an invoice upload.
const maxInvoiceUploadBytes = 16 << 20

// PortalHandler serves the public supplier portal. The token in the URL is
// the only credential; there is no session and no CSRF cookie. All lookup
// failures produce the same response so a caller cannot probe which tokens
// exist.
type PortalHandler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewPortalHandler constructs the portal handler.
func NewPortalHandler(service *Service, logger *slog.Logger) *PortalHandler {
	return &PortalHandler{
		service:  service,
		logger:   logger,
		validate: validator.New(),
	}
}

// MountRoutes attaches portal routes under /portal.
func (h *PortalHandler) MountRoutes(r chi.Router) {
	// Tighter than the global limit: these endpoints are reachable without
	// a session.
	r.Use(httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	r.Get("/{token}", h.show)
	r.Post("/{token}/respond", h.respond)
	r.Post("/{token}/invoice", h.uploadInvoice)
}

func (h *PortalHandler) show(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPortalOrderResponse(order))
}

func (h *PortalHandler) respond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", `action must be "accept" or "reject"`)
		return
	}

	order, err := h.service.RespondByToken(r.Context(), chi.URLParam(r, "token"), req.Action == "accept")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPortalOrderResponse(order))
}

func (h *PortalHandler) uploadInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxInvoiceUploadBytes)
	if err := r.ParseMultipartForm(maxInvoiceUploadBytes); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "request must be multipart form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invoice file is required")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	upload := InvoiceUpload{
		Number:      r.FormValue("invoice_number"),
		Amount:      r.FormValue("amount"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		File:        file,
	}
	inv, err := h.service.UploadInvoiceByToken(r.Context(), chi.URLParam(r, "token"), upload)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}
