package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a missing region, product or mask result.
	ErrNotFound = errors.New("catalog: not found")
	// ErrConflict reports a conditional transition whose expected status no longer holds.
	ErrConflict = errors.New("catalog: status conflict")
	// ErrDuplicate reports an insert that collides with an existing unique key.
	ErrDuplicate = errors.New("catalog: duplicate")
	// ErrInvalidState reports an operation attempted from the wrong status.
	ErrInvalidState = errors.New("catalog: invalid state")
	// ErrInvalidTransition reports an edge outside the status graph.
	ErrInvalidTransition = errors.New("catalog: invalid transition")
	// ErrInvalidInput reports values the schema would reject.
	ErrInvalidInput = errors.New("catalog: invalid input")
)

// ConflictError describes a lost optimistic transition.
type ConflictError struct {
	ProductID int64
	Expected  Status
	Actual    Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("catalog: product %d is %s, expected %s", e.ProductID, e.Actual, e.Expected)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// InvalidStateError describes an operation refused because of the current status.
type InvalidStateError struct {
	ProductID int64
	Status    Status
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("catalog: cannot %s product %d in status %s", e.Operation, e.ProductID, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
