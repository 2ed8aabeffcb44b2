package company

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/orderdesk/orderdesk/internal/platform/httpx"
	"github.com/orderdesk/orderdesk/internal/shared"
)

// maxLogoUploadBytes caps the logo upload body.
const maxLogoUploadBytes = 4 << 20

const oauthStateSessionKey = "freeagent_oauth_state"

// Handler serves the session-authenticated company API.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

// MountRoutes attaches company routes under /company.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.show)
	r.Post("/logo", h.uploadLogo)
	r.Get("/contacts", h.contacts)
	r.Get("/projects", h.projects)
	r.Post("/projects", h.createProject)
	r.Get("/categories", h.categories)
	r.Post("/sync", h.sync)
	r.Get("/freeagent/connect", h.connect)
	r.Get("/freeagent/callback", h.callback)
	r.Post("/freeagent/disconnect", h.disconnect)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	companyID := shared.CompanyIDFromContext(r.Context())
	company, details, err := h.service.Get(r.Context(), companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"company":   company,
		"freeagent": details,
	})
}

func (h *Handler) uploadLogo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLogoUploadBytes)
	if err := r.ParseMultipartForm(maxLogoUploadBytes); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "request must be multipart form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "logo file is required")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	companyID := shared.CompanyIDFromContext(r.Context())
	key, err := h.service.UploadLogo(r.Context(), companyID, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"logo_key": key})
}

func (h *Handler) contacts(w http.ResponseWriter, r *http.Request) {
	companyID := shared.CompanyIDFromContext(r.Context())
	contacts, err := h.service.mirror.Contacts(r.Context(), companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (h *Handler) projects(w http.ResponseWriter, r *http.Request) {
	companyID := shared.CompanyIDFromContext(r.Context())
	projects, err := h.service.mirror.Projects(r.Context(), companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (h *Handler) categories(w http.ResponseWriter, r *http.Request) {
	companyID := shared.CompanyIDFromContext(r.Context())
	categories, err := h.service.mirror.Categories(r.Context(), companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": categories})
}

type createProjectRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	ctx := r.Context()
	project, err := h.service.mirror.CreateProjectForCompany(ctx, shared.CompanyIDFromContext(ctx), shared.UserIDFromContext(ctx), req.Name, req.Currency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, project)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	companyID := shared.CompanyIDFromContext(r.Context())
	if err := h.service.mirror.SyncCompanyData(r.Context(), companyID, true); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"synced": true})
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	url, state, err := h.service.ConnectURL()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.Set(oauthStateSessionKey, state)
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "code and state are required")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.Get(oauthStateSessionKey) == "" || sess.Get(oauthStateSessionKey) != state {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "state mismatch")
		return
	}
	sess.Delete(oauthStateSessionKey)

	companyID := shared.CompanyIDFromContext(r.Context())
	if err := h.service.CompleteConnect(r.Context(), companyID, code); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"connected": true})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	companyID := shared.CompanyIDFromContext(r.Context())
	if err := h.service.Disconnect(r.Context(), companyID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"connected": false})
}
