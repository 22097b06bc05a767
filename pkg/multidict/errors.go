package multidict

import (
	"errors"
	"fmt"
)

var (
	// ErrUnderflow means more occurrences of a (key, value) were removed than ever existed.
	ErrUnderflow = errors.New("multiplicity underflow")
	// ErrAmbiguousValue means a merge would leave more than one live value under a key.
	ErrAmbiguousValue = errors.New("ambiguous value state")
	// ErrStaleMerge means the dictionary was mutated after the merge was prepared, or the merge
	// was already committed.
	ErrStaleMerge = errors.New("stale merge")
)

// KeyError reports an invariant violation on a particular key. It unwraps to one of the
// sentinel errors of the package.
type KeyError struct {
	Key     any
	Err     error
	Message string
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("key %v: %v: %s", e.Key, e.Err, e.Message)
	}
	return fmt.Sprintf("key %v: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

func newKeyError(key any, err error, format string, args ...any) error {
	return &KeyError{Key: key, Err: err, Message: fmt.Sprintf(format, args...)}
}
