package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/rudhanster/travel-request-system/internal/app"
	"github.com/rudhanster/travel-request-system/internal/domain"
	"github.com/rudhanster/travel-request-system/internal/platform/config"
	apperrors "github.com/rudhanster/travel-request-system/internal/platform/errors"
)

// --- Mock implementations ---

type mockAppService struct {
	submitFn         func(ctx context.Context, sess app.Session, form app.SubmitForm) (*domain.CreateResult, error)
	approveFn        func(ctx context.Context, sess app.Session, id int) error
	declineFn        func(ctx context.Context, sess app.Session, id int, reason string) error
	fetchPendingFn   func(ctx context.Context, sess app.Session, travelDate string) ([]domain.TravelRequest, error)
	fetchProcessedFn func(ctx context.Context, sess app.Session, f app.ProcessedFilter) ([]domain.TravelRequest, error)
	fetchMineFn      func(ctx context.Context, sess app.Session) ([]domain.TravelRequest, error)
	fetchByIDFn      func(ctx context.Context, sess app.Session, id int) (*domain.TravelRequest, error)
	dispatchFn       func(ctx context.Context, sess app.Session, ids []int) (*app.DispatchResult, error)
	retryFn          func(ctx context.Context, sess app.Session, draft *domain.MailDraftResult, ids []int) (*app.DispatchResult, error)
}

func (m *mockAppService) Submit(ctx context.Context, sess app.Session, form app.SubmitForm) (*domain.CreateResult, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, sess, form)
	}
	return &domain.CreateResult{ID: 1, Title: "TR-1"}, nil
}

func (m *mockAppService) Approve(ctx context.Context, sess app.Session, id int) error {
	if m.approveFn != nil {
		return m.approveFn(ctx, sess, id)
	}
	return nil
}

func (m *mockAppService) Decline(ctx context.Context, sess app.Session, id int, reason string) error {
	if m.declineFn != nil {
		return m.declineFn(ctx, sess, id, reason)
	}
	return nil
}

func (m *mockAppService) FetchPending(ctx context.Context, sess app.Session, travelDate string) ([]domain.TravelRequest, error) {
	if m.fetchPendingFn != nil {
		return m.fetchPendingFn(ctx, sess, travelDate)
	}
	return nil, nil
}

func (m *mockAppService) FetchProcessed(ctx context.Context, sess app.Session, f app.ProcessedFilter) ([]domain.TravelRequest, error) {
	if m.fetchProcessedFn != nil {
		return m.fetchProcessedFn(ctx, sess, f)
	}
	return nil, nil
}

func (m *mockAppService) FetchMine(ctx context.Context, sess app.Session) ([]domain.TravelRequest, error) {
	if m.fetchMineFn != nil {
		return m.fetchMineFn(ctx, sess)
	}
	return nil, nil
}

func (m *mockAppService) FetchByID(ctx context.Context, sess app.Session, id int) (*domain.TravelRequest, error) {
	if m.fetchByIDFn != nil {
		return m.fetchByIDFn(ctx, sess, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) Dispatch(ctx context.Context, sess app.Session, ids []int) (*app.DispatchResult, error) {
	if m.dispatchFn != nil {
		return m.dispatchFn(ctx, sess, ids)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) RetryApprovals(ctx context.Context, sess app.Session, draft *domain.MailDraftResult, ids []int) (*app.DispatchResult, error) {
	if m.retryFn != nil {
		return m.retryFn(ctx, sess, draft, ids)
	}
	return nil, errors.New("not implemented")
}

type mockSession struct {
	identity domain.Identity
}

func (m *mockSession) AccessToken(_ context.Context, _ []string) (string, error) {
	return "token", nil
}

func (m *mockSession) Identity() domain.Identity { return m.identity }

func adminContextSession() *mockSession {
	return &mockSession{identity: domain.Identity{
		DisplayName: "Admin One",
		UniqueName:  "admin@example.com",
		IsAdmin:     true,
	}}
}

func userContextSession() *mockSession {
	return &mockSession{identity: domain.Identity{
		DisplayName: "Plain User",
		UniqueName:  "user@example.com",
	}}
}

// --- Test helpers ---

func newTestServer(t *testing.T, appSvc appService, opts ...func(*Server)) *Server {
	t.Helper()

	store := sessions.NewCookieStore([]byte("test-secret-key-32-bytes-long!!!"))
	store.Options = &sessions.Options{
		Path:   "/",
		MaxAge: 3600,
	}

	e := echo.New()

	srv := &Server{
		echo: e,
		config: &config.Config{
			ClientID:      "test-client-id",
			RedirectURI:   "http://localhost/auth/callback",
			SessionMaxAge: time.Hour,
		},
		app:          appSvc,
		sessionStore: store,
		startTime:    time.Now(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return apperrors.Middleware()(handler)(c)
}

func newJSONContext(t *testing.T, srv *Server, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return srv.echo.NewContext(req, rec), rec
}

func setSessionToken(t *testing.T, srv *Server, req *http.Request, rec *httptest.ResponseRecorder, token string) {
	t.Helper()
	session, err := srv.sessionStore.Get(req, sessionName)
	require.NoError(t, err)
	session.Values[sessionKeyToken] = token
	require.NoError(t, session.Save(req, rec))
}
