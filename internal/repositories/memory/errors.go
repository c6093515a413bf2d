package memory

import (
	"errors"
	"fmt"
)

var (
	errNotFound = errors.New("not found")
	errConflict = errors.New("already exists")
)

// Error implements repositories.RepositoryError for the in-memory driver.
type Error struct {
	op  string
	err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && errors.Is(e.err, errNotFound) }
func (e *Error) IsConflict() bool    { return e != nil && errors.Is(e.err, errConflict) }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, id string) error {
	return &Error{op: op, err: fmt.Errorf("%s %w", id, errNotFound)}
}

func conflict(op, id string) error {
	return &Error{op: op, err: fmt.Errorf("%s %w", id, errConflict)}
}
