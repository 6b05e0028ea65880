package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Session store errors
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeQueryFailed      ErrorCode = "QUERY_FAILED"
	ErrCodeReleaseFailed    ErrorCode = "RELEASE_FAILED"
	ErrCodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeClaimConflict    ErrorCode = "CLAIM_CONFLICT"

	// Healing errors
	ErrCodePIDUnresolved  ErrorCode = "PID_UNRESOLVED"
	ErrCodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	ErrCodeLockHeld       ErrorCode = "LOCK_HELD"

	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// ClaimError represents a structured error with context
type ClaimError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *ClaimError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *ClaimError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *ClaimError) WithDetail(key string, value interface{}) *ClaimError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *ClaimError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new ClaimError
func New(code ErrorCode, message string) *ClaimError {
	return &ClaimError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a ClaimError
func Wrap(err error, code ErrorCode, message string) *ClaimError {
	return &ClaimError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is reports whether any ClaimError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var claimErr *ClaimError
		if !stderrors.As(err, &claimErr) {
			return false
		}
		if claimErr.Code == code {
			return true
		}
		err = claimErr.Cause
	}
	return false
}

// GetCode extracts the outermost error code from an error
func GetCode(err error) ErrorCode {
	var claimErr *ClaimError
	if stderrors.As(err, &claimErr) {
		return claimErr.Code
	}
	return ""
}
