package settlement

import "errors"

// Typed failure kinds surfaced by the settlement engine. Callers match with
// errors.Is; the engine wraps them with operation context.
var (
	// ErrNumericalOverflow marks a checked arithmetic overflow or underflow
	// during the payout fee computation. The vault is left untouched.
	ErrNumericalOverflow = errors.New("settlement: numerical overflow")
	// ErrInvalidState marks an operation attempted against an entity that is
	// not in the required precondition state.
	ErrInvalidState = errors.New("settlement: invalid state for operation")
	// ErrUnauthorized marks a caller that is not the designated actor for
	// the entity being mutated.
	ErrUnauthorized = errors.New("settlement: caller not authorized")
	// ErrAlreadyExists marks a creation against a write-once target that
	// already holds a record.
	ErrAlreadyExists = errors.New("settlement: record already exists")
	// ErrInsufficientFunds is surfaced unmodified from the token-transfer
	// collaborator when the paying account cannot cover the amount.
	ErrInsufficientFunds = errors.New("settlement: insufficient funds")
	// ErrNotFound marks a missing record whose existence is a precondition.
	ErrNotFound = errors.New("settlement: record not found")
)
