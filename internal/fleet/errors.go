package fleet

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrPersistence  = errors.New("persistence failed")
	ErrQuery        = errors.New("query failed")
)

// ValidationError reports a missing or out-of-range field on a write path.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DuplicateKeyError reports a collision on a unique key, e.g. a session id
// registered twice.
type DuplicateKeyError struct {
	Collection string
	Key        string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: key %q already exists", e.Collection, e.Key)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// PersistenceError wraps a failed durable write. It is logged, never sent to
// consumers.
type PersistenceError struct {
	Collection string
	Key        string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s/%s: %v", e.Collection, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// QueryError wraps a failed read.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() []error { return []error{ErrQuery, e.Err} }

// Kind returns a short machine-readable name for err, used in error events
// sent back to a connection.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrQuery):
		return "query"
	default:
		return "internal"
	}
}
