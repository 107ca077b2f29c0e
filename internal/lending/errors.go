// internal/lending/errors.go
package lending

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the engine reports.
type Kind string

const (
	KindMissingFields       Kind = "MissingFields"
	KindInvalidInput        Kind = "InvalidInput"
	KindDuplicateBook       Kind = "DuplicateBook"
	KindBookNotFound        Kind = "BookNotFound"
	KindNoOutstandingRecord Kind = "NoOutstandingRecord"
	KindUnavailable         Kind = "Unavailable"
	KindStoreUnavailable    Kind = "StoreUnavailable"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrMissingFields       = &Error{Kind: KindMissingFields}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrDuplicateBook       = &Error{Kind: KindDuplicateBook}
	ErrBookNotFound        = &Error{Kind: KindBookNotFound}
	ErrNoOutstandingRecord = &Error{Kind: KindNoOutstandingRecord}
	ErrUnavailable         = &Error{Kind: KindUnavailable}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable}
)

// Error is the only error type the engine returns.
type Error struct {
	Op    string
	Title string
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Title != "":
		return fmt.Sprintf("%s %q: %s", e.Op, e.Title, msg)
	case e.Op != "":
		return e.Op + ": " + msg
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels, which carry a kind and nothing else.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Title == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func newError(op, title string, kind Kind, err error) *Error {
	return &Error{Op: op, Title: title, Kind: kind, Err: err}
}

// classify guarantees that nothing but *Error leaves the engine.
func classify(op, title string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return newError(op, title, KindStoreUnavailable, err)
}
