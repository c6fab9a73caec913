package httpx

import (
	"errors"
	"net/http"
)

// Code classifies an error for API consumers.
type Code string

// Error codes used across the API.
const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeAuthentication Code = "AUTHENTICATION_ERROR"
	CodeAuthorization  Code = "AUTHORIZATION_ERROR"
	CodeNotFound       Code = "NOT_FOUND_ERROR"
	CodeDatabase       Code = "DATABASE_ERROR"
)

// Error carries an HTTP status, an API error code and a user facing message.
type Error struct {
	Code    Code
	Status  int
	Message string
	Fields  []FieldError
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Validation builds a 400 validation error.
func Validation(message string, fields ...FieldError) *Error {
	return &Error{Code: CodeValidation, Status: http.StatusBadRequest, Message: message, Fields: fields}
}

// Authentication builds a 401 error.
func Authentication(message string) *Error {
	return &Error{Code: CodeAuthentication, Status: http.StatusUnauthorized, Message: message}
}

// Authorization builds a 403 error.
func Authorization(message string) *Error {
	return &Error{Code: CodeAuthorization, Status: http.StatusForbidden, Message: message}
}

// NotFound builds a 404 error.
func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: message}
}

// Conflict builds a 400 conflict error. The upstream API reports uniqueness
// conflicts as 400 rather than 409, so we keep that contract.
func Conflict(message string) *Error {
	return &Error{Code: CodeValidation, Status: http.StatusBadRequest, Message: message}
}

// Internal builds a 500 error wrapping the underlying cause. The cause is
// surfaced in the response body; callers rely on it for debugging.
func Internal(message string, err error) *Error {
	return &Error{Code: CodeDatabase, Status: http.StatusInternalServerError, Message: message, Err: err}
}

// RespondError writes err as the shared error envelope.
func RespondError(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal("Internal server error", err)
	}
	body := ErrorBody{Success: false, Message: apiErr.Message, Errors: apiErr.Fields}
	if apiErr.Err != nil {
		body.Error = apiErr.Err.Error()
	}
	JSON(w, apiErr.Status, body)
}
