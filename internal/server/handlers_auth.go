package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rudhanster/travel-request-system/internal/app"
	"github.com/rudhanster/travel-request-system/internal/msidentity"
	apperrors "github.com/rudhanster/travel-request-system/internal/platform/errors"
)

func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate OAuth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *Server) handleLogin(c echo.Context) error {
	state, err := generateOAuthState()
	if err != nil {
		return apperrors.InternalError("failed to generate OAuth state", err)
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.Error("Failed to get session for OAuth state", "error", err)
	}

	session.Values[sessionKeyOAuthState] = state
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save OAuth state session", err)
	}

	if err := c.Redirect(http.StatusFound, s.identity.BeginSignIn(state)); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleAuthCallback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return apperrors.ValidationError("missing code parameter")
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return apperrors.ValidationError("invalid session")
	}

	state := c.QueryParam("state")
	expectedState, ok := session.Values[sessionKeyOAuthState].(string)
	switch {
	case ok && expectedState != "":
		if state != expectedState {
			return apperrors.ValidationError("invalid OAuth state")
		}
		delete(session.Values, sessionKeyOAuthState)
	case s.identity.ConsumeChallengeState(state):
		// State minted server-side for an interactive renewal challenge;
		// the browser carries no cookie-bound state on that path.
	default:
		return apperrors.ValidationError("missing OAuth state")
	}

	ctx := c.Request().Context()
	identitySession, err := s.identity.CompleteSignIn(ctx, code)
	if err != nil {
		return apperrors.ExternalError("failed to complete sign-in", err)
	}

	// Regenerate the cookie session after authentication so a session ID
	// fixated before login cannot be replayed afterwards.
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to invalidate old session", err)
	}

	session, err = s.sessionStore.New(c.Request(), sessionName)
	if err != nil {
		return apperrors.InternalError("failed to create new session", err)
	}

	session.Values[sessionKeyToken] = identitySession.ID.String()
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save session", err)
	}

	identity := identitySession.Identity()
	slog.InfoContext(ctx, "User signed in",
		"session_id", identitySession.ID,
		"unique_name", identity.UniqueName,
		"is_admin", identity.IsAdmin)

	if err := c.Redirect(http.StatusFound, "/api/me"); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleLogout(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID, hasSession := c.Get("sessionID").(uuid.UUID)

	var logoutURL string
	if hasSession {
		logoutURL = s.identity.SignOut(sessionID)
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.Error("Failed to get session during logout", "error", err)
		session, err = s.sessionStore.New(c.Request(), sessionName)
		if err != nil {
			return apperrors.InternalError("failed to create new session during logout", err)
		}
	}
	session.Options.MaxAge = -1

	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save logout session", err)
	}

	if hasSession {
		slog.InfoContext(ctx, "User signed out", "session_id", sessionID)
	}

	if logoutURL == "" {
		logoutURL = "/auth/login"
	}
	if err := c.Redirect(http.StatusFound, logoutURL); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleMe(c echo.Context) error {
	identitySession := currentSession(c)
	identity := identitySession.Identity()

	if err := c.JSON(http.StatusOK, map[string]any{
		"display_name": identity.DisplayName,
		"unique_name":  identity.UniqueName,
		"is_admin":     identity.IsAdmin,
	}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// requireAuth restores the identity session referenced by the browser
// cookie. Requests without one fail with 401 and the sign-in entry point.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		session, err := s.sessionStore.Get(c.Request(), sessionName)
		if err != nil {
			return signInRequired()
		}

		sessionIDStr, ok := session.Values[sessionKeyToken].(string)
		if !ok {
			return signInRequired()
		}

		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			return signInRequired()
		}

		identitySession := s.identity.Initialize(c.Request().Context(), sessionID)
		if identitySession == nil {
			// The server no longer knows the session (restart, sign-out
			// elsewhere). Expire the stale cookie.
			session.Options.MaxAge = -1
			_ = session.Save(c.Request(), c.Response().Writer)
			return signInRequired()
		}

		c.Set("session", identitySession)
		c.Set("sessionID", identitySession.ID)
		return next(c)
	}
}

// requireAdmin runs after requireAuth and gates admin-only routes.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !currentSession(c).Identity().IsAdmin {
			return apperrors.UnauthorizedError("admin access required", nil)
		}
		return next(c)
	}
}

func currentSession(c echo.Context) app.Session {
	sess, _ := c.Get("session").(app.Session)
	return sess
}

func signInRequired() error {
	return apperrors.UnauthorizedError("sign-in required", nil).
		WithField("login_url", "/auth/login")
}

// withAuthChallenge augments token renewal failures with the authorize URL
// the client must visit to re-consent interactively.
func withAuthChallenge(err error) error {
	if err == nil {
		return nil
	}
	var ire *msidentity.InteractionRequiredError
	if errors.As(err, &ire) {
		return apperrors.UnauthorizedError("interactive sign-in required", err).
			WithField("authorize_url", ire.AuthorizeURL)
	}
	return err
}
