package domain

import "context"

// Identity is the authenticated principal for one session. Established once
// at sign-in, discarded at sign-out, never persisted outside the session
// boundary.
type Identity struct {
	DisplayName string
	UniqueName  string
	// IsAdmin is derived once per session establishment from the configured
	// allow-list (case-insensitive). Allow-list changes take effect on the
	// next authentication.
	IsAdmin bool
}

// TokenSource yields a valid bearer token for a scope set. Implementations
// try silent renewal before any interactive fallback.
type TokenSource interface {
	AccessToken(ctx context.Context, scopes []string) (string, error)
}
