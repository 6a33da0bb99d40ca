package util

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Error codes shared by the engine.
const (
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeConfigurationError = "CONFIGURATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, Details: details}
}

// NewInvalidTransition reports a state machine operation that is not valid from the current state.
func NewInvalidTransition(operation, state string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["operation"] = operation
	details["state"] = state
	return NewDomainError(CodeInvalidTransition, fmt.Sprintf("cannot %s from state %s", operation, state), details)
}

// NewConfigurationError reports calendar or policy data the engine cannot work with.
func NewConfigurationError(message string, details map[string]any) error {
	return NewDomainError(CodeConfigurationError, message, details)
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: details,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:    CodeInternalError,
		Message: "internal error",
		Err:     err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &DomainError{Code: CodeNotFound, Message: "resource not found", Err: err}
	}
	return &DomainError{
		Code:    CodeInternalError,
		Message: "internal error",
		Err:     err,
	}
}

// HasCode reports whether err carries a DomainError with the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

func IsInvalidTransition(err error) bool  { return HasCode(err, CodeInvalidTransition) }
func IsConfigurationError(err error) bool { return HasCode(err, CodeConfigurationError) }

// IsNotFound also matches pgx.ErrNoRows.
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound) || errors.Is(err, pgx.ErrNoRows)
}
