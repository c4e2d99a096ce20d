package orderbook

import "errors"

var (
	// ErrInvalidOrder signals a structurally invalid order (bad side, price <= 0, size == 0).
	ErrInvalidOrder = errors.New("invalid order")
	// ErrOrderNotFound signals the id is not resting on the book (filled, cancelled or unknown).
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvariantViolation signals a corrupted book: crossed sides or impossible remaining sizes.
	ErrInvariantViolation = errors.New("order book invariant violated")
	// ErrHalted is returned for every mutation after an invariant violation.
	ErrHalted = errors.New("order book halted")
)
