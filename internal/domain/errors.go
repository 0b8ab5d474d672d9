package domain

import "errors"

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrStatusNotFound = errors.New("relay status not found")

	// ErrAssertion marks a violated engine invariant. It is always reported to the
	// operator debug channel before it is returned.
	ErrAssertion = errors.New("assertion failed")

	ErrDuplicateKey = errors.New("duplicate registry key")
	ErrUnknownKey   = errors.New("unknown registry key")

	ErrActionInFlight       = errors.New("session action already in flight")
	ErrSessionExpired       = errors.New("session expired")
	ErrTranslatorMissing    = errors.New("translator not configured")
	ErrAlreadyRunning       = errors.New("relay already running")
	ErrNotRunning           = errors.New("relay not running")
	ErrErrorBudgetExhausted = errors.New("error budget exhausted")
)
