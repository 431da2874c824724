package store

import (
	"errors"
	"fmt"

	"github.com/dshills/whiteboard/internal/element"
)

// Store errors.
var (
	// ErrNotFound is returned when a mutation references an absent id.
	ErrNotFound = errors.New("element not found")

	// ErrInvalidID is returned when an element has an empty id.
	ErrInvalidID = errors.New("invalid element id")
)

// OpError describes a failed store operation.
type OpError struct {
	Op  string
	ID  element.ID
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}
