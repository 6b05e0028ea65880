package errors

import (
	"fmt"
	"time"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *ClaimError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *ClaimError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// StoreUnavailable creates an error for a session store that cannot be opened or reached
func StoreUnavailable(driver string, err error) *ClaimError {
	return Wrap(err, ErrCodeStoreUnavailable, fmt.Sprintf("session store unavailable (driver %s)", driver)).
		WithDetail("driver", driver)
}

// QueryFailed creates a query failure error for the named signal source
func QueryFailed(source string, err error) *ClaimError {
	return Wrap(err, ErrCodeQueryFailed, fmt.Sprintf("query failed: %s", source)).
		WithDetail("source", source)
}

// ReleaseFailed creates a claim release failure error
func ReleaseFailed(sessionID string, err error) *ClaimError {
	return Wrap(err, ErrCodeReleaseFailed, fmt.Sprintf("failed to release session '%s'", sessionID)).
		WithDetail("sessionId", sessionID)
}

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *ClaimError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session '%s' not found", sessionID)).
		WithDetail("sessionId", sessionID)
}

// ClaimConflict creates an error for a work key already claimed by another live session
func ClaimConflict(workKey, holder string) *ClaimError {
	return New(ErrCodeClaimConflict,
		fmt.Sprintf("%s is already claimed by session '%s'", workKey, holder)).
		WithDetail("workKey", workKey).
		WithDetail("holder", holder)
}

// PIDUnresolved creates an error for a session whose process id cannot be determined
func PIDUnresolved(sessionID string) *ClaimError {
	return New(ErrCodePIDUnresolved, fmt.Sprintf("cannot resolve pid for session '%s'", sessionID)).
		WithDetail("sessionId", sessionID)
}

// BudgetExceeded creates an error for work deferred past a time budget
func BudgetExceeded(budget time.Duration, deferred int) *ClaimError {
	return New(ErrCodeBudgetExceeded,
		fmt.Sprintf("time budget of %s exhausted with %d item(s) deferred", budget, deferred)).
		WithDetail("budget", budget.String()).
		WithDetail("deferred", deferred)
}

// LockHeld creates an error for a lock file owned by another live process
func LockHeld(path string, pid int) *ClaimError {
	return New(ErrCodeLockHeld, fmt.Sprintf("lock %s is held by pid %d", path, pid)).
		WithDetail("path", path).
		WithDetail("pid", pid)
}

// InvalidInput creates an invalid input error
func InvalidInput(reason string) *ClaimError {
	return New(ErrCodeInvalidInput, reason)
}
