package msidentity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rudhanster/travel-request-system/internal/domain"
	"github.com/rudhanster/travel-request-system/internal/metrics"
)

// expiryBuffer is how close to expiry a cached token is still considered
// valid. Renewal starts this early so in-flight calls never carry a token
// that expires mid-request.
const expiryBuffer = 60 * time.Second

// Session is one established identity with its private token cache. Tokens
// are never shared across sessions.
type Session struct {
	ID      uuid.UUID
	manager *Manager

	identity domain.Identity

	mu           sync.Mutex
	refreshToken string
	tokens       map[string]*cachedToken

	renewGroup singleflight.Group
}

type cachedToken struct {
	value  string
	expiry time.Time
}

// Identity returns the authenticated principal.
func (s *Session) Identity() domain.Identity {
	return s.identity
}

var _ domain.TokenSource = (*Session)(nil)

// AccessToken returns a valid bearer token for the given scope set.
// Order is fixed: cached token, then silent renewal via the refresh grant,
// then the interactive fallback. The interactive flow is never raised
// unless silent renewal has already failed. Concurrent renewals for the
// same scope set collapse into one provider call.
func (s *Session) AccessToken(ctx context.Context, scopes []string) (string, error) {
	key := scopeKey(scopes)

	if value, ok := s.cachedValid(key); ok {
		metrics.TokenAcquisitionsTotal.WithLabelValues("cached", "ok").Inc()
		return value, nil
	}

	value, err, _ := s.renewGroup.Do(key, func() (any, error) {
		// Re-check under singleflight: another caller may have renewed
		// while this one waited.
		if value, ok := s.cachedValid(key); ok {
			return value, nil
		}
		return s.renew(ctx, scopes, key)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (s *Session) cachedValid(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[key]
	if !ok {
		return "", false
	}
	if !s.manager.clock.Now().Add(expiryBuffer).Before(tok.expiry) {
		return "", false
	}
	return tok.value, true
}

func (s *Session) renew(ctx context.Context, scopes []string, key string) (string, error) {
	tok, silentErr := s.renewSilent(ctx, scopes)
	if silentErr == nil {
		metrics.TokenAcquisitionsTotal.WithLabelValues("silent", "ok").Inc()
		s.store(key, tok)
		return tok.Value, nil
	}
	metrics.TokenAcquisitionsTotal.WithLabelValues("silent", "error").Inc()

	tok, interactiveErr := s.manager.interactive.Renew(ctx, s, scopes)
	if interactiveErr == nil {
		metrics.TokenAcquisitionsTotal.WithLabelValues("interactive", "ok").Inc()
		s.store(key, tok)
		return tok.Value, nil
	}
	metrics.TokenAcquisitionsTotal.WithLabelValues("interactive", "error").Inc()

	var interactionErr *InteractionRequiredError
	if errors.As(interactiveErr, &interactionErr) {
		return "", interactiveErr
	}
	return "", fmt.Errorf("%w: silent: %v, interactive: %v", domain.ErrTokenUnavailable, silentErr, interactiveErr)
}

func (s *Session) renewSilent(ctx context.Context, scopes []string) (*Token, error) {
	s.mu.Lock()
	refreshToken := s.refreshToken
	s.mu.Unlock()

	if refreshToken == "" {
		return nil, errors.New("no refresh token held")
	}

	return s.manager.refreshGrant(ctx, refreshToken, scopes)
}

func (s *Session) store(key string, tok *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[key] = &cachedToken{value: tok.Value, expiry: tok.Expiry}
	if tok.RefreshToken != "" {
		s.refreshToken = tok.RefreshToken
	}
}

func scopeKey(scopes []string) string {
	return strings.Join(scopes, " ")
}
