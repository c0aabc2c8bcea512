package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the record or ledger entry is absent. Often a
	// legitimate outcome rather than a failure.
	ErrNotFound = errors.New("repository: not found")
	// ErrStoreUnavailable covers I/O failures, throttling and timeouts.
	ErrStoreUnavailable = errors.New("repository: store unavailable")
)

// StoreError wraps a store I/O failure with the operation that hit it.
// errors.Is(err, ErrStoreUnavailable) holds for every StoreError.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("repository: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// ErrInvalidArgument rejects malformed input before any store call.
var ErrInvalidArgument = errors.New("repository: invalid argument")
