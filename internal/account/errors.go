package account

import (
	"errors"
	"fmt"
	"net/http"
)

// Errors returned by the account client and directory.
var (
	// ErrUnavailable is returned when the backend cannot be reached or the
	// circuit breaker is open.
	ErrUnavailable = errors.New("account: backend unavailable")

	// ErrInvalidRequest is returned for input the backend (or the local
	// pre-check) rejects as malformed.
	ErrInvalidRequest = errors.New("account: invalid request")

	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("account: password too short")

	// ErrUnauthorized is returned for a wrong password.
	ErrUnauthorized = errors.New("account: incorrect credentials")

	// ErrNotFound is returned for unknown accounts or bulbs.
	ErrNotFound = errors.New("account: not found")

	// ErrConflict is returned when the email or bulb is already registered.
	ErrConflict = errors.New("account: already exists")

	// ErrBackend is returned for backend-side failures (HTTP 5xx).
	ErrBackend = errors.New("account: backend error")

	// ErrNotSignedIn is returned by the directory when no account email is stored.
	ErrNotSignedIn = errors.New("account: not signed in")
)

// APIError is a non-success reply from the account backend.
// It unwraps to the sentinel matching its HTTP status.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("account: %s: %d %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		return ErrInvalidRequest
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	default:
		return ErrBackend
	}
}

// clientSide reports whether the reply was a request problem rather than
// a backend fault. Client-side errors do not trip the breaker.
func (e *APIError) clientSide() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
