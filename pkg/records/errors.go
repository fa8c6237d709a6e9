package records

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDeletedRecord = errors.New("record is deleted")
	ErrVersionRange  = errors.New("record version out of range")
	ErrStaleWrite    = errors.New("stale record version")
	ErrSchemaMissing = errors.New("form missing from schema")
	ErrMissingParent = errors.New("missing parent record")
	ErrReadOnly      = errors.New("session is read-only")
	ErrHasChildren   = errors.New("record has children")
)

// StaleWriteError is returned when a save was prepared against an older
// version than the one stored.
type StaleWriteError struct {
	ULID     string
	Expected int // version held by the caller
	Actual   int // fragments currently stored
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("cannot overwrite record %s: holding version %d, stored version is %d", e.ULID, e.Expected, e.Actual)
}

func (e *StaleWriteError) Unwrap() error { return ErrStaleWrite }
