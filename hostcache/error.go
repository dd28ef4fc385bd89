// Copyright (c) 2020 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hostcache

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

const (
	// ErrNotFound indicates no address satisfied a fetch or the address to
	// remove is not in the cache.
	ErrNotFound = ErrorKind("ErrNotFound")

	// ErrInvalidAddress indicates an address without a host or port was
	// provided.
	ErrInvalidAddress = ErrorKind("ErrInvalidAddress")

	// ErrLoadFailed indicates the cache could not be loaded from its
	// backing store.
	ErrLoadFailed = ErrorKind("ErrLoadFailed")

	// ErrFlushFailed indicates the cache could not be written to its
	// backing store.
	ErrFlushFailed = ErrorKind("ErrFlushFailed")

	// ErrStoreCorruption indicates the backing store is corrupted.
	ErrStoreCorruption = ErrorKind("ErrStoreCorruption")

	// ErrStoreNotOpen indicates the backing store was used after it was
	// closed.
	ErrStoreNotOpen = ErrorKind("ErrStoreNotOpen")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies a host cache error.  It has full support for errors.Is and
// errors.As, so the caller can ascertain the specific reason for the error by
// checking the underlying error.
type Error struct {
	Err         error
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
