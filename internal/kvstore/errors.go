package kvstore

import "errors"

var (
	// ErrNotFound is returned when a key has no value in the namespace.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrTypeMismatch is returned when a key holds a value of the other kind.
	ErrTypeMismatch = errors.New("kvstore: value type mismatch")

	// ErrReadOnly is returned by mutating calls on a read-only handle.
	ErrReadOnly = errors.New("kvstore: handle is read-only")

	// ErrClosed is returned after Commit or Close.
	ErrClosed = errors.New("kvstore: handle is closed")

	// ErrInvalidNamespace is returned for an empty namespace.
	ErrInvalidNamespace = errors.New("kvstore: invalid namespace")
)
