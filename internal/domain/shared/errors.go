// Package shared contains the error taxonomy and event primitives used by
// every domain package. It has no dependencies outside the standard library.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds, matched with errors.Is().
var (
	// ErrValidation: a submission was rejected before any mutation.
	ErrValidation = errors.New("validation error")
	// ErrPersistence: the data store failed and the transaction was rolled back.
	// The caller may retry the whole operation.
	ErrPersistence = errors.New("persistence error")
	// ErrConflict: the store aborted the transaction because of a concurrent
	// writer. Retrying the full transaction is safe.
	ErrConflict = errors.New("concurrent modification detected")

	ErrNotFound           = errors.New("entity not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError carries the domain and operation a failure happened in.
type DomainError struct {
	Domain  string // "stats", "achievement", "notification", ...
	Op      string // e.g. "AddDailySteps", "Submit"
	Kind    error  // base kind for errors.Is()
	Message string
	Err     error // underlying cause, optional
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches either the kind or the wrapped cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Validation builds a validation failure for op.
func Validation(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// Persistence wraps a store failure.
func Persistence(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrPersistence, "data store failure", err)
}

// Stats domain errors
var (
	ErrStepRecordNotFound = NewDomainError("stats", "FetchDay", ErrNotFound, "no step record for day")
	ErrNoDelta            = NewDomainError("stats", "Validate", ErrValidation, "at least one positive delta is required")
	ErrNonPositiveDelta   = NewDomainError("stats", "Validate", ErrValidation, "deltas must be greater than zero")
	ErrStatsRegression    = NewDomainError("stats", "Save", ErrInvalidState, "stats counters cannot decrease")
	ErrCounterOverflow    = NewDomainError("stats", "Add", ErrValidation, "delta would overflow the counter")
)

// Achievement domain errors
var (
	ErrEntryNotFound     = NewDomainError("achievement", "Find", ErrNotFound, "achievement entry not found")
	ErrUnknownCategory   = NewDomainError("achievement", "ParseCategory", ErrValidation, "unknown achievement category")
	ErrAlreadyUnlocked   = NewDomainError("achievement", "Unlock", ErrInvalidState, "achievement already unlocked")
	ErrCatalogNotSorted  = NewDomainError("achievement", "NewCatalog", ErrInvalidState, "catalog table is not strictly ascending")
	ErrCatalogEmptyTable = NewDomainError("achievement", "NewCatalog", ErrInvalidState, "catalog table is empty")
)

// Notification domain errors
var (
	ErrInvalidPayload  = NewDomainError("notification", "ParsePayload", ErrValidation, "malformed notification payload")
	ErrMessageNotFound = NewDomainError("notification", "Outbox", ErrNotFound, "outbox message not found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsPersistence checks if the error came from the data store.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrConflict)
}

// IsConflict checks if the transaction lost a race with another writer.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRetryable checks if the operation can be retried as a whole.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
