package surgecache

import (
	"errors"
	"fmt"
)

// ErrEmptyResult is returned by Fetch when the query's predicate can never
// match a row (for example an empty IN list). The underlying query is not
// executed and nothing is cached; callers map this to their zero-row result.
var ErrEmptyResult = errors.New("surgecache: predicate can never match")

// StoreError wraps a shared-store failure with the operation that hit it.
// Read paths degrade to pass-through on StoreError; write paths escalate to
// full-model invalidation and report it to the caller.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("surgecache: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
