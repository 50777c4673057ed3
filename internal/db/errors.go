package db

import (
	"errors"
	"fmt"
)

// StorageError wraps a failure reported by the storage engine: a rejected
// write, a failed query, or a lost connection. Loaders never recover from it
// locally; it aborts the run.
type StorageError struct {
	Op    string // e.g. "copy", "count", "commit"
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err as a storage failure. Returns nil for a nil err.
func NewStorageError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Table: table, Err: err}
}

// IsStorageFailure reports whether err (or any error in its chain) is a
// StorageError.
func IsStorageFailure(err error) bool {
	if err == nil {
		return false
	}
	var se *StorageError
	return errors.As(err, &se)
}
