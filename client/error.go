package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMissingCredentials is wrapped by the Error returned when a request is attempted
// without both an API key and an API secret.
var ErrMissingCredentials = errors.New("API key and secret are required")

// Error is returned for every failed call to the Fluxsave service.
type Error struct {
	// Message is a human-readable description.
	Message string
	// Code is the HTTP status reported by the service, 401 for missing credentials,
	// or 500 when no status is available.
	Code int
	// Data holds the decoded JSON error body, if the service sent one. Numbers are json.Number.
	Data any

	err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("fluxsave: %s (code %d)", e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.err
}

// IsAuthError reports whether err was caused by missing credentials.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingCredentials)
}

func newAuthError() *Error {
	return &Error{
		Message: ErrMissingCredentials.Error(),
		Code:    http.StatusUnauthorized,
		err:     ErrMissingCredentials,
	}
}

// newTransportError translates a failure that produced no HTTP response.
func newTransportError(err error) *Error {
	return &Error{
		Message: err.Error(),
		Code:    http.StatusInternalServerError,
		err:     err,
	}
}

// newStatusError translates an error status returned by the service.
func newStatusError(status int, body []byte) *Error {
	e := &Error{Code: status}

	if payload, err := decodeJSON(body); err == nil && payload != nil {
		e.Data = payload
		if m, ok := payload.(map[string]any); ok {
			for _, k := range []string{"message", "error"} {
				if s, ok := m[k].(string); ok && s != "" {
					e.Message = s
					break
				}
			}
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if status == 0 {
		e.Code = http.StatusInternalServerError
	}
	return e
}
