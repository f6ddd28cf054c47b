// Package server is the HTTP boundary: authentication flow, the JSON API
// over the request lifecycle, and the operational endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"

	"github.com/rudhanster/travel-request-system/internal/app"
	"github.com/rudhanster/travel-request-system/internal/domain"
	"github.com/rudhanster/travel-request-system/internal/msidentity"
	"github.com/rudhanster/travel-request-system/internal/platform/config"
)

// appService is the slice of the application layer the handlers use.
type appService interface {
	Submit(ctx context.Context, sess app.Session, form app.SubmitForm) (*domain.CreateResult, error)
	Approve(ctx context.Context, sess app.Session, id int) error
	Decline(ctx context.Context, sess app.Session, id int, reason string) error
	FetchPending(ctx context.Context, sess app.Session, travelDate string) ([]domain.TravelRequest, error)
	FetchProcessed(ctx context.Context, sess app.Session, f app.ProcessedFilter) ([]domain.TravelRequest, error)
	FetchMine(ctx context.Context, sess app.Session) ([]domain.TravelRequest, error)
	FetchByID(ctx context.Context, sess app.Session, id int) (*domain.TravelRequest, error)
	Dispatch(ctx context.Context, sess app.Session, ids []int) (*app.DispatchResult, error)
	RetryApprovals(ctx context.Context, sess app.Session, draft *domain.MailDraftResult, ids []int) (*app.DispatchResult, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	identity *msidentity.Manager
	app      appService

	sessionStore *sessions.CookieStore
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, identity *msidentity.Manager, appSvc appService, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		identity:     identity,
		app:          appSvc,
		sessionStore: setupSessionStore(cfg),
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Session keys
const (
	sessionName          = "travel-request-session"
	sessionKeyToken      = "token"
	sessionKeyOAuthState = "oauth_state"
)

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}
	return sessionStore
}
