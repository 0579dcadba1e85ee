// Package api provides the authenticated HTTP client for the analysis
// service: bearer credentials on every call, a single refresh-and-retry
// when a call is rejected, rotation of the stored credentials, and typed
// decoding of the service's records.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the request pipeline. Use errors.Is to check.
var (
	// ErrUsage reports a programmer error, e.g. a body supplied with GET.
	ErrUsage = errors.New("api: invalid request")
	// ErrNotAuthenticated means no access credential is stored.
	ErrNotAuthenticated = errors.New("api: not authenticated")
	// ErrSessionRevoked means a call was rejected and no refresh credential
	// is available. The caller must log in again.
	ErrSessionRevoked = errors.New("api: session revoked")
	// ErrRefreshFailed means the single recovery attempt was rejected too.
	// The stored credentials are left untouched.
	ErrRefreshFailed = errors.New("api: credential refresh failed")
	// ErrDecode means the response did not match the expected schema.
	ErrDecode = errors.New("api: unexpected response shape")
)

// Sentinel errors for HTTP status code classification.
var (
	ErrBadRequest    = errors.New("api: bad request")
	ErrUnauthorized  = errors.New("api: unauthorized")
	ErrForbidden     = errors.New("api: forbidden")
	ErrNotFound      = errors.New("api: not found")
	ErrConflict      = errors.New("api: conflict")
	ErrUnprocessable = errors.New("api: unprocessable entity")
	ErrThrottled     = errors.New("api: throttled")
	ErrServerError   = errors.New("api: server error")
)

// APIError wraps a sentinel error with the HTTP status code and the
// response body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// LoginError is returned when the token endpoint rejects a login. Detail is
// the server-provided text, or a generic message when the body was empty.
type LoginError struct {
	StatusCode int
	Detail     string
}

func (e *LoginError) Error() string {
	return e.Detail
}

// IsSessionFatal reports whether err means the session can no longer be
// used and the user has to log in again.
func IsSessionFatal(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrSessionRevoked) ||
		errors.Is(err, ErrRefreshFailed)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes below 400.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusBadRequest {
			return ErrBadRequest
		}

		return nil
	}
}

func newAPIError(resp *Response) *APIError {
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(resp.Body),
		Err:        classifyStatus(resp.StatusCode),
	}
}
