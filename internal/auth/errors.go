package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEntropyUnavailable means the secure random source failed; no auth flow can start.
	ErrEntropyUnavailable = errors.New("secure random source unavailable")
	// ErrInvalidState rejects a callback that does not match the pending authorization.
	ErrInvalidState = errors.New("authorization state mismatch or no pending authorization")
	// ErrMissingCode rejects a callback without an authorization code.
	ErrMissingCode = errors.New("authorization callback missing code")
	// ErrExchangeRejected is wrapped by every *ExchangeError.
	ErrExchangeRejected = errors.New("token endpoint rejected the request")
	// ErrMalformedResponse means a success response carried no access token.
	ErrMalformedResponse = errors.New("token response missing access_token")
	// ErrProviderError covers transport failures and timeouts.
	ErrProviderError = errors.New("provider request failed")
	// ErrUnauthorized is returned when the provider refuses the access token.
	ErrUnauthorized = errors.New("provider rejected access token")
	// ErrNotRefreshable means the token set has no refresh token.
	ErrNotRefreshable = errors.New("token set has no refresh token")
)

const maxErrorBody = 1024

// ExchangeError carries the token endpoint's status and body for diagnostics.
type ExchangeError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token %s rejected: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

func (e *ExchangeError) Unwrap() error {
	return ErrExchangeRejected
}

// Confirmed reports whether the provider refused the grant itself (4xx),
// as opposed to failing while processing it (5xx).
func (e *ExchangeError) Confirmed() bool {
	return e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError
}

// IsTerminal reports whether err means the stored credentials can no longer be used.
func IsTerminal(err error) bool {
	if errors.Is(err, ErrNotRefreshable) || errors.Is(err, ErrUnauthorized) {
		return true
	}
	var exchangeErr *ExchangeError
	if errors.As(err, &exchangeErr) {
		return exchangeErr.Confirmed()
	}
	return false
}
