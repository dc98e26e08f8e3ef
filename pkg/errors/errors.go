package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	// Candidate-to-student pipeline errors.
	ErrStateTransition    = New("STATE_ERROR", http.StatusConflict, "transition not permitted in current state")
	ErrGatewayRejected    = New("GATEWAY_REJECTED", http.StatusBadGateway, "impossible d'initier le paiement")
	ErrGatewayUnreachable = New("GATEWAY_UNREACHABLE", http.StatusServiceUnavailable, "payment gateway unreachable")
	ErrNumberingExhausted = New("NUMBERING_EXHAUSTED", http.StatusConflict, "could not allocate a unique number")
	ErrFileTooLarge       = New("FILE_TOO_LARGE", http.StatusBadRequest, "uploaded file exceeds maximum size")
	ErrBadFormat          = New("BAD_FORMAT", http.StatusBadRequest, "uploaded file format not allowed")
	ErrConfig             = New("CONFIG_ERROR", http.StatusUnprocessableEntity, "invalid configuration")
	ErrTokenExpired       = New("TOKEN_EXPIRED", http.StatusForbidden, "inscription token expired or invalid")
)

// ErrCacheMiss signals a cache lookup that found no stored value.
var ErrCacheMiss = errors.New("cache miss")

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
