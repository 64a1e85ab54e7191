package shared

import "errors"

// Domain error kinds shared by every module. Services wrap these with %w so
// callers can classify failures with errors.Is regardless of which module
// produced them.
var (
	// ErrNotFound indicates an unknown identifier.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates an operation attempted from a state that
	// does not permit it.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrValidation indicates malformed attributes or non-positive quantities.
	ErrValidation = errors.New("invalid input")
	// ErrOverReceipt indicates a receipt that would exceed the ordered quantity.
	ErrOverReceipt = errors.New("received quantity exceeds ordered quantity")
	// ErrInsufficientStock indicates available quantity below the requested amount.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
