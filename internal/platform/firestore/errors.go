package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// failureClass buckets gRPC codes into the categories services branch on.
type failureClass uint8

const (
	classOther failureClass = iota
	classNotFound
	classConflict
	classUnavailable
)

// Aborted and FailedPrecondition surface when a stock or status transaction loses a race or
// exhausts its retries; callers treat them as conflicts.
var codeClasses = map[codes.Code]failureClass{
	codes.NotFound:           classNotFound,
	codes.AlreadyExists:      classConflict,
	codes.FailedPrecondition: classConflict,
	codes.Aborted:            classConflict,
	codes.OutOfRange:         classConflict,
	codes.Unavailable:        classUnavailable,
	codes.ResourceExhausted:  classUnavailable,
	codes.Internal:           classUnavailable,
}

// Error implements repositories.RepositoryError for Firestore backed repositories.
type Error struct {
	op    string
	err   error
	class failureClass
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.op == "":
		return e.err.Error()
	default:
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e.is(classNotFound) }

// IsConflict reports a lost race or a duplicate create.
func (e *Error) IsConflict() bool { return e.is(classConflict) }

// IsUnavailable reports a transient backend failure worth a 503.
func (e *Error) IsUnavailable() bool { return e.is(classUnavailable) }

func (e *Error) is(class failureClass) bool { return e != nil && e.class == class }

// WrapError tags err with op and its repository category. Cancellation is returned as the
// plain context error so handlers can tell a client disconnect from a datastore fault.
func WrapError(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.op == "" {
			existing.op = op
		}
		return existing
	}
	return &Error{op: op, err: err, class: codeClasses[code]}
}
