package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/rudhanster/travel-request-system/internal/platform/correlation"
	apperrors "github.com/rudhanster/travel-request-system/internal/platform/errors"
)

const (
	rateLimiterExpiry = 5 * time.Minute
	authRatePerSecond = 2
	authBurst         = 5
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(apperrors.Middleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		HSTSPreloadEnabled: true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	csrfMiddleware := s.setupCSRFMiddleware()
	authLimiter := newRateLimiter(authRatePerSecond, authBurst)

	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/auth/login", s.handleLogin, authLimiter)
	s.echo.GET("/auth/callback", s.handleAuthCallback, authLimiter)
	s.echo.POST("/auth/logout", s.handleLogout, authLimiter, s.requireAuth, csrfMiddleware)

	s.echo.GET("/api/me", s.handleMe, s.requireAuth)
	s.echo.POST("/api/requests", s.handleSubmit, s.requireAuth, csrfMiddleware)
	s.echo.GET("/api/requests/mine", s.handleMine, s.requireAuth)
	s.echo.GET("/api/requests/pending", s.handlePending, s.requireAuth, s.requireAdmin)
	s.echo.GET("/api/requests/processed", s.handleProcessed, s.requireAuth, s.requireAdmin)
	s.echo.GET("/api/requests/:id", s.handleByID, s.requireAuth, s.requireAdmin)
	s.echo.POST("/api/requests/:id/approve", s.handleApprove, s.requireAuth, s.requireAdmin, csrfMiddleware)
	s.echo.POST("/api/requests/:id/decline", s.handleDecline, s.requireAuth, s.requireAdmin, csrfMiddleware)
	s.echo.POST("/api/dispatch", s.handleDispatch, s.requireAuth, s.requireAdmin, csrfMiddleware)
	s.echo.POST("/api/dispatch/retry", s.handleDispatchRetry, s.requireAuth, s.requireAdmin, csrfMiddleware)
}

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

func (s *Server) setupCSRFMiddleware() echo.MiddlewareFunc {
	secure := s.config.AppEnv == "production"
	maxAge := int(s.config.SessionMaxAge.Seconds())

	return middleware.CSRFWithConfig(middleware.CSRFConfig{
		TokenLookup:    "form:csrf_token,header:X-CSRF-Token",
		CookieName:     "csrf_token",
		CookiePath:     "/",
		CookieMaxAge:   maxAge,
		CookieHTTPOnly: true,
		CookieSecure:   secure,
		CookieSameSite: http.SameSiteStrictMode,
	})
}

func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		},
	})
}
