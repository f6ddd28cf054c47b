package domain

import "errors"

var (
	// ErrConcurrentModification signals a conditional update rejected by the
	// store because the version tag went stale. Callers must surface this
	// distinctly so a UI can prompt a refresh instead of retrying blindly.
	ErrConcurrentModification = errors.New("record modified concurrently")

	// ErrAlreadyProcessed signals a transition attempted on a record that
	// already left Pending. Terminal states are hard-rejected.
	ErrAlreadyProcessed = errors.New("request already processed")

	ErrRequestNotFound = errors.New("travel request not found")

	// ErrTokenUnavailable signals that both silent and interactive token
	// renewal are exhausted.
	ErrTokenUnavailable = errors.New("access token unavailable")

	ErrNotAuthenticated = errors.New("no established session")
)
