package dal

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrWriteFailure is matched by *WriteError.
	ErrWriteFailure = errors.New("write failure")
	// ErrInvalidData is returned when caller data is rejected before any store request.
	ErrInvalidData = errors.New("invalid data")
	// ErrNoArchive is returned by archive operations when no archive store is configured.
	ErrNoArchive = errors.New("no archive store configured")
)

// NotFoundError reports a single-document read of a missing document.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// WriteError reports a batch or single write the store rejected. The store
// cause stays reachable through errors.Is and errors.As.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: write failed: %v", e.Op, e.Err)
}

func (e *WriteError) Is(target error) bool {
	return target == ErrWriteFailure
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidData, fmt.Sprintf(format, args...))
}
