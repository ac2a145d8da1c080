package core

import (
	"fmt"
	"net/http"
)

// Error is the JSON error returned by the HTTP surface before a stream is
// upgraded.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
)

// StatusOverloaded is returned while the gateway drains.
const StatusOverloaded = 529

func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

func NewPermissionError(message, param string) *Error {
	return &Error{Type: ErrPermission, Message: message, Param: param}
}

func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

func NewOverloadedError(message, code string) *Error {
	return &Error{Type: ErrOverloaded, Message: message, Code: code}
}

// HTTPStatus maps the error type to its response status.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case ErrInvalidRequest:
		if e.Code == "method_not_allowed" {
			return http.StatusMethodNotAllowed
		}
		return http.StatusBadRequest
	case ErrPermission:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrOverloaded:
		return StatusOverloaded
	default:
		return http.StatusInternalServerError
	}
}
