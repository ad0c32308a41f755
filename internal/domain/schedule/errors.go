package schedule

import (
	"errors"
	"fmt"
)

// Kind classifies schedule errors for callers that need to map them to a
// transport status or a retry decision.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNoMedicinesFound Kind = "no_medicines_found"
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindConflict         Kind = "conflict"
	KindInternal         Kind = "internal"
)

// Sentinel errors, one per kind. Match with errors.Is.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNoMedicinesFound = &Error{Kind: KindNoMedicinesFound}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrInternal         = &Error{Kind: KindInternal}
)

// Error carries the kind and the offending identifier.
type Error struct {
	Kind Kind
	ID   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.ID != "" {
		msg += " (" + e.ID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so wrapped errors match the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, id, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, ID: id, Msg: fmt.Sprintf(format, args...)}
}

// Validation returns a validation error for the given identifier.
func Validation(id, format string, args ...interface{}) error {
	return newError(KindValidation, id, format, args...)
}

// NotFound returns a not-found error for the given identifier.
func NotFound(id, format string, args ...interface{}) error {
	return newError(KindNotFound, id, format, args...)
}

// Forbidden returns a forbidden error for the given identifier.
func Forbidden(id, format string, args ...interface{}) error {
	return newError(KindForbidden, id, format, args...)
}

// Conflict returns a conflict error for the given identifier.
func Conflict(id, format string, args ...interface{}) error {
	return newError(KindConflict, id, format, args...)
}

// Internal wraps a store or infrastructure failure.
func Internal(id string, err error) error {
	return &Error{Kind: KindInternal, ID: id, Msg: "operation aborted", Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTerminal reports whether retrying the operation cannot succeed.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNoMedicinesFound, KindNotFound, KindForbidden:
		return true
	}
	return false
}
