package ledger

import "errors"

// Error taxonomy for settlement and guard operations. Callers classify with
// errors.Is; the HTTP layer maps each to a distinct status and machine code.
var (
	// ErrInvalidRequest means the request was rejected before any side effect.
	ErrInvalidRequest = errors.New("invalid trade request")

	// ErrAccountNotFound means the account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance means the balance could not cover the trade
	// amount; the trade is recorded as failed and the balance is untouched.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConflictExceeded means the guard exhausted its optimistic-write
	// retries without ever reporting partial success.
	ErrConflictExceeded = errors.New("conflicting balance updates exceeded retry budget")

	// ErrTimeout means the caller gave up waiting for the account lock; the
	// balance was not mutated.
	ErrTimeout = errors.New("timed out waiting for account lock")

	// ErrStorageFailure means the underlying store was unreachable; a trade
	// already created stays pending for the reconciler.
	ErrStorageFailure = errors.New("storage failure")
)
