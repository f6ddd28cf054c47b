// Package app is the application layer: the request lifecycle state
// machine and the batch dispatch workflow. It is the only package that
// composes the record store, the mail service, and the session identity.
package app
