package shared

import "errors"

// Error taxonomy for the stock ledger and its workflows. Business-rule errors
// are returned unchanged to callers; only ErrLockTimeout is safe to retry.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input, rejected before any transaction opens.
	ErrValidation = errors.New("invalid input")
	// ErrDuplicate indicates a uniqueness violation.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrInvalidState occurs when a workflow transition is called out of order.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrInsufficientStock occurs when a movement would take a stock level negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientBatchStock occurs when eligible batches cannot cover an allocation.
	ErrInsufficientBatchStock = errors.New("insufficient batch stock")
	// ErrLockTimeout indicates a row lock could not be acquired in time. Transient.
	ErrLockTimeout = errors.New("lock wait timed out")
	// ErrConsistency indicates an internal invariant failed after an update. Fatal,
	// never silently corrected.
	ErrConsistency = errors.New("stock consistency violation")
)

// Retryable reports whether the caller may safely retry the operation with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
