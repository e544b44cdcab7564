package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStrategy      = errors.New("invalid strategy name")
	ErrImageLoad            = errors.New("image load failure")
	ErrDescriptorExtraction = errors.New("descriptor extraction failure")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrCapacityExceeded     = errors.New("descriptor capacity exceeded")
	ErrNoMatchFound         = errors.New("no match found")
	ErrMalformedImage       = errors.New("malformed image buffer")
	ErrDegenerateInput      = errors.New("degenerate input")
	ErrIncompatibleCodes    = errors.New("hash codes from different strategies")
	ErrInvalidTarget        = errors.New("invalid target image index")
	ErrIncomplete           = errors.New("computation incomplete")
)

// CellError records a failure for a single (row, col) pair
type CellError struct {
	Row int
	Col int
	Err error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("cell (%d,%d): %v", e.Row, e.Col, e.Err)
}

func (e *CellError) Unwrap() error {
	return e.Err
}

// Incomplete wraps a cancellation cause so callers can test for both
// ErrIncomplete and the context error
func Incomplete(cause error) error {
	return fmt.Errorf("%w: %w", ErrIncomplete, cause)
}
