package purchase

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newPortalServer(t *testing.T) (*fixture, http.Handler) {
	t.Helper()
	f := newFixture()
	handler := NewPortalHandler(f.service, f.service.logger)
	router := chi.NewRouter()
	router.Route("/portal", handler.MountRoutes)
	return f, router
}

func TestPortalShowOrder(t *testing.T) {
	f, router := newPortalServer(t)
	order, err := f.service.Create(context.Background(), 1, 7, sampleRequest())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/portal/"+order.PortalToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.Contains(t, body, `"po_number":"PO-1001"`)
	require.Contains(t, body, `"total":"100.00"`)
	// The portal view never exposes internal identifiers or the bill URL.
	require.NotContains(t, body, "freeagent_bill_url")
	require.NotContains(t, body, `"company_id"`)
}

func TestPortalMissIsUniform(t *testing.T) {
	_, router := newPortalServer(t)

	responses := make([]*httptest.ResponseRecorder, 0, 2)
	for _, token := range []string{"completely-malformed!!", "dGhpcy1sb29rcy1wbGF1c2libGU"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/portal/"+token, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
		responses = append(responses, rec)
	}
	// A malformed token and a plausible-but-unknown one must be
	// indistinguishable.
	require.Equal(t, responses[0].Body.String(), responses[1].Body.String())
}

func TestPortalRespond(t *testing.T) {
	f, router := newPortalServer(t)
	ctx := context.Background()
	order, err := f.service.Create(ctx, 1, 7, sampleRequest())
	require.NoError(t, err)
	_, err = f.service.Send(ctx, 1, 7, order.ID)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/portal/"+order.PortalToken+"/respond", strings.NewReader(`{"action":"accept"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ACCEPTED_BY_SUPPLIER"`)

	// Replaying the decision conflicts.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/portal/"+order.PortalToken+"/respond", strings.NewReader(`{"action":"reject"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPortalRespondValidatesAction(t *testing.T) {
	f, router := newPortalServer(t)
	order, err := f.service.Create(context.Background(), 1, 7, sampleRequest())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/portal/"+order.PortalToken+"/respond", strings.NewReader(`{"action":"maybe"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPortalInvoiceUpload(t *testing.T) {
	f, router := newPortalServer(t)
	ctx := context.Background()
	order, err := f.service.Create(ctx, 1, 7, sampleRequest())
	require.NoError(t, err)
	_, err = f.service.Send(ctx, 1, 7, order.ID)
	require.NoError(t, err)
	_, err = f.service.RespondByToken(ctx, order.PortalToken, true)
	require.NoError(t, err)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("invoice_number", "INV-9"))
	require.NoError(t, form.WriteField("amount", "100.00"))
	part, err := form.CreateFormFile("file", "invoice.pdf")
	require.NoError(t, err)
	_, err = io.WriteString(part, "%PDF-1.4")
	require.NoError(t, err)
	require.NoError(t, form.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/portal/"+order.PortalToken+"/invoice", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.store.objects, 1)

	stored, err := f.service.Get(ctx, 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInvoiceUploaded, stored.Status)
	require.NotNil(t, stored.Invoice)
	require.Equal(t, "INV-9", stored.Invoice.Number)
}

func TestPortalInvoiceUploadMissingFile(t *testing.T) {
	f, router := newPortalServer(t)
	order, err := f.service.Create(context.Background(), 1, 7, sampleRequest())
	require.NoError(t, err)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("invoice_number", "INV-9"))
	require.NoError(t, form.WriteField("amount", "100.00"))
	require.NoError(t, form.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/portal/"+order.PortalToken+"/invoice", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, f.store.objects)
}
