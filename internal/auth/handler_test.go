package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/orderdesk/orderdesk/internal/auth"
	"github.com/orderdesk/orderdesk/internal/shared"
	_ "github.com/orderdesk/orderdesk/testing"
)

type stubRepo struct {
	user       *auth.User
	membership *auth.Membership
	sessions   map[string]int64
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) FindMembership(ctx context.Context, userID int64) (*auth.Membership, error) {
	if s.membership == nil {
		return nil, shared.ErrNoMembership
	}
	return s.membership, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = make(map[string]int64)
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

func newHandler(t *testing.T, repo auth.Repository) (*auth.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return auth.NewHandler(logger, auth.NewService(repo), sessions, csrf), sessions
}

func loginUser(t *testing.T) *auth.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	require.NoError(t, err)
	return &auth.User{ID: 7, Email: "buyer@acme.test", PasswordHash: string(hashed), IsActive: true}
}

func doLogin(t *testing.T, handler *auth.Handler, sessions *shared.SessionManager, body string) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	router := chi.NewRouter()
	router.Route("/auth", handler.MountRoutes)
	router.ServeHTTP(rec, req)
	require.NoError(t, sessions.Commit(ctx, rec, req, sess))
	return rec, sess
}

func TestLoginSuccess(t *testing.T) {
	repo := &stubRepo{user: loginUser(t), membership: &auth.Membership{UserID: 7, CompanyID: 3, Role: "owner"}}
	handler, sessions := newHandler(t, repo)

	rec, sess := doLogin(t, handler, sessions, `{"email":"buyer@acme.test","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		UserID    int64  `json:"user_id"`
		CompanyID int64  `json:"company_id"`
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(7), resp.UserID)
	require.Equal(t, int64(3), resp.CompanyID)
	require.NotEmpty(t, resp.CSRFToken)
	require.Equal(t, int64(3), sess.CompanyID())
	require.Contains(t, repo.sessions, sess.ID)
}

func TestLoginInvalidCredentials(t *testing.T) {
	repo := &stubRepo{user: loginUser(t), membership: &auth.Membership{UserID: 7, CompanyID: 3}}
	handler, sessions := newHandler(t, repo)

	rec, _ := doLogin(t, handler, sessions, `{"email":"buyer@acme.test","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginWithoutMembership(t *testing.T) {
	repo := &stubRepo{user: loginUser(t)}
	handler, sessions := newHandler(t, repo)

	rec, _ := doLogin(t, handler, sessions, `{"email":"buyer@acme.test","password":"correctpass"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSession(t *testing.T) {
	mw := auth.RequireSession(nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	sess := &shared.Session{}
	sess.SetIdentity(7, 3)
	ctx := shared.ContextWithSession(req.Context(), sess)
	rec = httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req.WithContext(ctx))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
