package csvtable

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned by mutators given a row or column index
	// outside the table. The table is left unchanged.
	ErrOutOfRange = errors.New("index out of range")

	// ErrInvalidInput is returned when the input is not text (invalid
	// UTF-8 or NUL bytes) or the dialect options are unusable.
	ErrInvalidInput = errors.New("invalid input")
)

// RangeError describes a rejected index. It unwraps to ErrOutOfRange.
type RangeError struct {
	Op    string // operation that failed, e.g. "set cell"
	Axis  string // "row" or "column"
	Index int
	Len   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: %s index %d out of range (have %d)", e.Op, e.Axis, e.Index, e.Len)
}

func (e *RangeError) Unwrap() error {
	return ErrOutOfRange
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
