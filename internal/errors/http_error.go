package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	Code    int            `json:"-"`
	Kind    Kind           `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTPError with the given code and message.
func NewHTTPError(code int, message string) *HTTPError {
	return &HTTPError{
		Code:    code,
		Message: message,
	}
}

// Helper for common errors
var (
	ErrUnauthorized = func(msg string) *HTTPError {
		e := NewHTTPError(http.StatusUnauthorized, msg)
		e.Kind = "unauthorized"
		return e
	}
	ErrBadRequest = func(msg string) *HTTPError {
		e := NewHTTPError(http.StatusBadRequest, msg)
		e.Kind = KindValidation
		return e
	}
)

// Write renders e as the JSON error body.
func (e *HTTPError) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	_ = json.NewEncoder(w).Encode(e)
}

// HTTPStatus maps a failure kind to the status the API answers with.
func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidState, KindTooEarly, KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindDependency:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ToHTTP converts any error into its wire form. Untyped errors become a 500
// without leaking their text.
func ToHTTP(err error) *HTTPError {
	var he *HTTPError
	if errors.As(err, &he) {
		return he
	}
	var e *Error
	if errors.As(err, &e) {
		return &HTTPError{
			Code:    HTTPStatus(e.Kind),
			Kind:    e.Kind,
			Message: e.Message,
			Details: e.Details,
		}
	}
	return &HTTPError{Code: http.StatusInternalServerError, Kind: "internal", Message: "Server error"}
}
