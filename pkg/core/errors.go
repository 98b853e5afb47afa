package core

import (
	"fmt"
)

// Error is the canonical error shape surfaced by the gateway. Every
// component boundary converts its failures into one of these before they
// reach a handler.
type Error struct {
	Type          ErrorType `json:"type"`
	Message       string    `json:"message"`
	Param         string    `json:"param,omitempty"`
	Code          string    `json:"code,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	UpstreamError any       `json:"upstream_error,omitempty"`
}

// Error implements the error interface.
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
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrPrecondition   ErrorType = "precondition_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrUpstream       ErrorType = "upstream_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewPreconditionError creates an error for requests rejected before any
// network call is made (empty transcript, malformed thread id, concurrent
// pipeline invocation).
func NewPreconditionError(message, code string) *Error {
	return &Error{
		Type:    ErrPrecondition,
		Message: message,
		Code:    code,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewOverloadedError creates an overloaded error.
func NewOverloadedError(message string) *Error {
	return &Error{
		Type:    ErrOverloaded,
		Message: message,
	}
}

// NewUpstreamError creates an error for failures of an external collaborator
// (workflow service, room service).
func NewUpstreamError(upstream string, underlying error) *Error {
	return &Error{
		Type:          ErrUpstream,
		Message:       fmt.Sprintf("%s: %v", upstream, underlying),
		UpstreamError: underlying.Error(),
	}
}

// IsRetryable returns true if the operation that produced the error may
// succeed when retried with the same inputs.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrOverloaded, ErrAPI, ErrUpstream:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if ue, ok := e.UpstreamError.(error); ok {
		return ue
	}
	return nil
}
