package store

import (
	"errors"
	"fmt"
)

// ErrConflict is returned by UpdateResult when the record is already in a
// terminal state. Concurrent finishers race through this: the first terminal
// write wins, the loser gets ErrConflict and treats its own write as a no-op.
var ErrConflict = errors.New("record already terminal")

// ErrNotFound is returned when no record exists for the given id.
var ErrNotFound = errors.New("record not found")

// StoreError wraps persistence-layer failures. Callers must treat these as
// possibly transient: the invocation fails and the scheduler retries it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err is a persistence-layer failure.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
