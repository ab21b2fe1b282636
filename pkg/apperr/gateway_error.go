// Package apperr provides structured application errors with HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Inbound webhook errors
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeMalformedPayload = "MALFORMED_PAYLOAD"
	CodeMissingHeader    = "MISSING_HEADER"

	// Resolution errors
	CodeUnknownDomain = "UNKNOWN_DOMAIN"
	CodeUnknownInbox  = "UNKNOWN_INBOX"
	CodeNotFound      = "NOT_FOUND"

	// Validation errors
	CodeBadRequest   = "BAD_REQUEST"
	CodeMissingField = "MISSING_FIELD"

	// Delivery errors
	CodeDeliveryFailed  = "DELIVERY_FAILED"
	CodeCircuitOpen     = "CIRCUIT_OPEN"
	CodeRequeueRejected = "REQUEUE_REJECTED"

	// Internal errors
	CodeDatabaseError = "DATABASE_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
	CodeTimeout       = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Inbound webhook errors
func InvalidSignature(message string) *AppError {
	if message == "" {
		message = "webhook signature verification failed"
	}
	return &AppError{
		Code:    CodeInvalidSignature,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func MalformedPayload(err error) *AppError {
	return &AppError{
		Code:    CodeMalformedPayload,
		Message: "malformed webhook payload",
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func MissingHeader(header string) *AppError {
	return &AppError{
		Code:    CodeMissingHeader,
		Message: fmt.Sprintf("missing required header: %s", header),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"header": header},
	}
}

// Resolution errors
func UnknownDomain(name string) *AppError {
	return &AppError{
		Code:    CodeUnknownDomain,
		Message: fmt.Sprintf("no domain registered for %s", name),
		Status:  http.StatusNotFound,
	}
}

func UnknownInbox(address string) *AppError {
	return &AppError{
		Code:    CodeUnknownInbox,
		Message: fmt.Sprintf("no inbox matches %s", address),
		Status:  http.StatusNotFound,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Delivery errors
func RequeueRejected(deliveryID string) *AppError {
	return &AppError{
		Code:    CodeRequeueRejected,
		Message: fmt.Sprintf("delivery %s is not requeueable", deliveryID),
		Status:  http.StatusConflict,
		Details: map[string]any{"delivery_id": deliveryID},
	}
}

// Internal errors
func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeInternalError, "internal server error", http.StatusInternalServerError)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
