// Package msidentity is the session manager: it drives the redirect-based
// sign-in/sign-out flows against the Microsoft identity platform, holds the
// per-session identity and token cache, and renews access tokens silently
// before falling back to interactive re-authentication.
package msidentity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rudhanster/travel-request-system/internal/domain"
	"github.com/rudhanster/travel-request-system/internal/metrics"
)

const (
	httpCallTimeout = 10 * time.Second

	// challengeStateTTL bounds how long an interactive renewal challenge
	// stays redeemable at the callback.
	challengeStateTTL = 10 * time.Minute
)

// Scope sets requested from the provider. ScopesGraph covers profile and
// mail-draft access for the provider's own API; ScopesStore is the default
// scope for the record store's resource.
var (
	ScopesGraph = []string{"User.Read", "Mail.ReadWrite", "Sites.ReadWrite.All", "offline_access"}
	ScopesStore = []string{"https://graph.microsoft.com/.default"}
)

type Config struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURI  string
	AuthorityURL string
	GraphURL     string
	// Admins is the allow-list of principal unique names, matched
	// case-insensitively once per session establishment.
	Admins []string
}

// Manager owns all established sessions. Sessions live only in memory:
// identity and tokens are discarded at sign-out or process end, never
// persisted.
type Manager struct {
	cfg        Config
	admins     map[string]struct{}
	httpClient *http.Client
	clock      clockwork.Clock

	// interactive is the fallback renewer used when silent renewal fails.
	// The production renewer cannot mint a token inline; it fails with an
	// InteractionRequiredError carrying the authorize URL so the boundary
	// can redirect.
	interactive TokenRenewer

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	// challengeStates holds the OAuth states minted for interactive renewal
	// challenges, keyed by state with their expiry. The sign-in callback
	// consumes them in place of a cookie-bound state.
	challengeStates map[string]time.Time
}

func NewManager(cfg Config, clock clockwork.Clock) *Manager {
	admins := make(map[string]struct{}, len(cfg.Admins))
	for _, a := range cfg.Admins {
		admins[strings.ToLower(a)] = struct{}{}
	}

	m := &Manager{
		cfg:             cfg,
		admins:          admins,
		httpClient:      &http.Client{Timeout: httpCallTimeout},
		clock:           clock,
		sessions:        make(map[uuid.UUID]*Session),
		challengeStates: make(map[string]time.Time),
	}
	m.interactive = &redirectRenewer{manager: m}
	return m
}

// Initialize restores a previously established session, or reports none.
// It never fails hard: an unknown or expired session simply yields nil.
func (m *Manager) Initialize(ctx context.Context, sessionID uuid.UUID) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// BeginSignIn returns the interactive sign-in URL for the given opaque
// state. The caller redirects and resumption happens via CompleteSignIn
// when the provider calls back.
func (m *Manager) BeginSignIn(state string) string {
	q := url.Values{}
	q.Set("client_id", m.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("response_mode", "query")
	q.Set("redirect_uri", m.cfg.RedirectURI)
	q.Set("scope", strings.Join(ScopesGraph, " "))
	q.Set("state", state)

	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize?%s", m.cfg.AuthorityURL, m.cfg.TenantID, q.Encode())
}

// CompleteSignIn finishes a redirect-based sign-in: exchanges the code,
// fetches the principal's profile, derives admin membership, and
// establishes the session.
func (m *Manager) CompleteSignIn(ctx context.Context, code string) (*Session, error) {
	tok, err := m.redeemCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code redemption failed: %w", err)
	}

	displayName, uniqueName, err := m.fetchProfile(ctx, tok.Value)
	if err != nil {
		return nil, fmt.Errorf("profile fetch failed: %w", err)
	}

	_, isAdmin := m.admins[strings.ToLower(uniqueName)]

	s := &Session{
		ID:      uuid.New(),
		manager: m,
		identity: domain.Identity{
			DisplayName: displayName,
			UniqueName:  uniqueName,
			IsAdmin:     isAdmin,
		},
		refreshToken: tok.RefreshToken,
		tokens:       make(map[string]*cachedToken),
	}
	s.tokens[scopeKey(ScopesGraph)] = &cachedToken{value: tok.Value, expiry: tok.Expiry}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	metrics.ActiveSessions.Inc()
	return s, nil
}

// SignOut discards the session and returns the provider's end-session URL.
func (m *Manager) SignOut(sessionID uuid.UUID) string {
	m.mu.Lock()
	if _, ok := m.sessions[sessionID]; ok {
		delete(m.sessions, sessionID)
		metrics.ActiveSessions.Dec()
	}
	m.mu.Unlock()

	q := url.Values{}
	q.Set("post_logout_redirect_uri", m.cfg.RedirectURI)
	return fmt.Sprintf("%s/%s/oauth2/v2.0/logout?%s", m.cfg.AuthorityURL, m.cfg.TenantID, q.Encode())
}

// Token is a renewed access token. RefreshToken is empty when the provider
// did not rotate it.
type Token struct {
	Value        string
	Expiry       time.Time
	RefreshToken string
}

// TokenRenewer acquires a fresh token for a session and scope set.
type TokenRenewer interface {
	Renew(ctx context.Context, s *Session, scopes []string) (*Token, error)
}

// InteractionRequiredError signals that only an interactive redirect can
// produce a token. It satisfies errors.Is(err, domain.ErrTokenUnavailable)
// because the core itself cannot proceed.
type InteractionRequiredError struct {
	AuthorizeURL string
}

func (e *InteractionRequiredError) Error() string {
	return "interactive sign-in required"
}

func (e *InteractionRequiredError) Unwrap() error {
	return domain.ErrTokenUnavailable
}

// redirectRenewer is the production interactive fallback: it cannot mint a
// token inline and always reports interaction-required. The authorize URL
// it hands out carries a state the callback will accept.
type redirectRenewer struct {
	manager *Manager
}

func (r *redirectRenewer) Renew(ctx context.Context, s *Session, scopes []string) (*Token, error) {
	state, err := r.manager.mintChallengeState()
	if err != nil {
		return nil, fmt.Errorf("failed to mint challenge state: %w", err)
	}
	return nil, &InteractionRequiredError{AuthorizeURL: r.manager.BeginSignIn(state)}
}

func (m *Manager) mintChallengeState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)

	m.mu.Lock()
	now := m.clock.Now()
	for s, expiry := range m.challengeStates {
		if now.After(expiry) {
			delete(m.challengeStates, s)
		}
	}
	m.challengeStates[state] = now.Add(challengeStateTTL)
	m.mu.Unlock()

	return state, nil
}

// ConsumeChallengeState reports whether state was minted for an interactive
// renewal challenge and has not expired. A state redeems at most once.
func (m *Manager) ConsumeChallengeState(state string) bool {
	if state == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.challengeStates[state]
	if !ok {
		return false
	}
	delete(m.challengeStates, state)
	return m.clock.Now().Before(expiry)
}

func (m *Manager) tokenEndpoint() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", m.cfg.AuthorityURL, m.cfg.TenantID)
}

func (m *Manager) redeemCode(ctx context.Context, code string) (*Token, error) {
	data := url.Values{}
	data.Set("client_id", m.cfg.ClientID)
	data.Set("client_secret", m.cfg.ClientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", m.cfg.RedirectURI)
	data.Set("scope", strings.Join(ScopesGraph, " "))

	return m.requestToken(ctx, data)
}

func (m *Manager) refreshGrant(ctx context.Context, refreshToken string, scopes []string) (*Token, error) {
	data := url.Values{}
	data.Set("client_id", m.cfg.ClientID)
	data.Set("client_secret", m.cfg.ClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("scope", strings.Join(scopes, " "))

	return m.requestToken(ctx, data)
}

func (m *Manager) requestToken(ctx context.Context, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &Token{
		Value:        tokenResp.AccessToken,
		Expiry:       m.clock.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		RefreshToken: tokenResp.RefreshToken,
	}, nil
}

func (m *Manager) fetchProfile(ctx context.Context, accessToken string) (displayName, uniqueName string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.GraphURL+"/v1.0/me", nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to execute profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("profile endpoint returned status %d", resp.StatusCode)
	}

	var profile struct {
		DisplayName       string `json:"displayName"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", "", fmt.Errorf("failed to decode profile response: %w", err)
	}

	if profile.UserPrincipalName == "" {
		return "", "", fmt.Errorf("profile response missing userPrincipalName")
	}

	return profile.DisplayName, profile.UserPrincipalName, nil
}
