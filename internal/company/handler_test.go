package company

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/orderdesk/orderdesk/internal/freeagent"
	"github.com/orderdesk/orderdesk/internal/integration"
	"github.com/orderdesk/orderdesk/internal/shared"
)

type stubRepo struct {
	company *Company
	logoKey string
}

func (s *stubRepo) GetByID(ctx context.Context, companyID int64) (*Company, error) {
	copied := *s.company
	return &copied, nil
}

func (s *stubRepo) SetLogoKey(ctx context.Context, companyID int64, key string) error {
	s.logoKey = key
	return nil
}

type stubOAuth struct {
	exchanged []string
	err       error
}

func (s *stubOAuth) AuthorizeURL(state string) string {
	return "https://api.freeagent.com/v2/approve_app?state=" + url.QueryEscape(state)
}

func (s *stubOAuth) ExchangeCode(ctx context.Context, code string) (freeagent.Credential, error) {
	if s.err != nil {
		return freeagent.Credential{}, s.err
	}
	s.exchanged = append(s.exchanged, code)
	return freeagent.Credential{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type stubCreds struct {
	stored  []freeagent.Credential
	deleted []int64
}

func (s *stubCreds) Put(ctx context.Context, cred freeagent.Credential) error {
	s.stored = append(s.stored, cred)
	return nil
}

func (s *stubCreds) Delete(ctx context.Context, companyID int64) error {
	s.deleted = append(s.deleted, companyID)
	return nil
}

type stubMirror struct {
	syncs   []int64
	details *integration.CompanyDetails
}

func (s *stubMirror) SyncCompanyData(ctx context.Context, companyID int64, force bool) error {
	s.syncs = append(s.syncs, companyID)
	return nil
}

func (s *stubMirror) CompanyDetails(ctx context.Context, companyID int64) (*integration.CompanyDetails, error) {
	return s.details, nil
}

func (s *stubMirror) Contacts(ctx context.Context, companyID int64) ([]integration.CachedContact, error) {
	return []integration.CachedContact{{Name: "Acme Supplies"}}, nil
}

func (s *stubMirror) Projects(ctx context.Context, companyID int64) ([]integration.CachedProject, error) {
	return nil, nil
}

func (s *stubMirror) Categories(ctx context.Context, companyID int64) ([]integration.CachedCategory, error) {
	return nil, nil
}

func (s *stubMirror) CreateProjectForCompany(ctx context.Context, companyID, userID int64, name, currency string) (*integration.CachedProject, error) {
	return &integration.CachedProject{ID: 1, CompanyID: companyID, Name: name, Currency: currency, Status: "Active"}, nil
}

type stubStore struct {
	objects map[string][]byte
}

func (s *stubStore) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = data
	return nil
}

type env struct {
	repo   *stubRepo
	oauth  *stubOAuth
	creds  *stubCreds
	mirror *stubMirror
	store  *stubStore
	sess   *shared.Session
	router http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		repo:   &stubRepo{company: &Company{ID: 1, Name: "Acme Ltd", CreatedAt: time.Now()}},
		oauth:  &stubOAuth{},
		creds:  &stubCreds{},
		mirror: &stubMirror{details: &integration.CompanyDetails{Name: "Acme Ltd", Currency: "GBP"}},
		store:  &stubStore{},
		sess:   &shared.Session{},
	}
	e.sess.SetIdentity(7, 1)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewService(ServiceConfig{
		Repo:   e.repo,
		OAuth:  e.oauth,
		Creds:  e.creds,
		Mirror: e.mirror,
		Store:  e.store,
		Logger: logger,
	})
	handler := NewHandler(service, logger)

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), e.sess)))
		})
	})
	router.Route("/company", handler.MountRoutes)
	e.router = router
	return e
}

func TestShowCompany(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/company/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"Acme Ltd"`)
	require.Contains(t, rec.Body.String(), `"currency":"GBP"`)
}

func TestConnectThenCallback(t *testing.T) {
	e := newEnv(t)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/company/freeagent/connect", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	state := e.sess.Get("freeagent_oauth_state")
	require.NotEmpty(t, state)
	require.Contains(t, rec.Body.String(), url.QueryEscape(state))

	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/company/freeagent/callback?code=code-1&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"code-1"}, e.oauth.exchanged)
	require.Len(t, e.creds.stored, 1)
	require.EqualValues(t, 1, e.creds.stored[0].CompanyID)
	// The first sync is kicked off as part of connecting.
	require.Equal(t, []int64{1}, e.mirror.syncs)
	// The state is single use.
	require.Empty(t, e.sess.Get("freeagent_oauth_state"))
}

func TestCallbackStateMismatch(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/company/freeagent/callback?code=code-1&state=forged", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, e.oauth.exchanged)
	require.Empty(t, e.creds.stored)
}

func TestDisconnect(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/company/freeagent/disconnect", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{1}, e.creds.deleted)
}

func TestUploadLogo(t *testing.T) {
	e := newEnv(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "logo.png")
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	require.NoError(t, form.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/company/logo", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "companies/1/logo/logo.png", e.repo.logoKey)
	require.Contains(t, e.store.objects, "companies/1/logo/logo.png")
}

func TestCreateProject(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/company/projects", bytes.NewReader([]byte(`{"name":"Rollout","currency":"GBP"}`)))
	req.Header.Set("Content-Type", "application/json")
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"Rollout"`)
}

func TestSync(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/company/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{1}, e.mirror.syncs)
}