// Copyright (c) 2020 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.  A nil error
// indicates success.
const (
	// ErrServiceStopped indicates the operation could not be performed or
	// was aborted because the service, session, or connector is stopped.
	ErrServiceStopped = ErrorKind("ErrServiceStopped")

	// ErrOperationFailed indicates an operation was rejected because the
	// target is not in a state that permits it.
	ErrOperationFailed = ErrorKind("ErrOperationFailed")

	// ErrResolveFailed indicates a hostname could not be resolved to any
	// address.
	ErrResolveFailed = ErrorKind("ErrResolveFailed")

	// ErrChannelTimeout indicates a connection attempt did not complete
	// within the configured timeout.
	ErrChannelTimeout = ErrorKind("ErrChannelTimeout")

	// ErrAddressInUse indicates a channel to the same authority is already
	// registered.
	ErrAddressInUse = ErrorKind("ErrAddressInUse")

	// ErrNotFound indicates the host cache has no address that satisfies a
	// request.
	ErrNotFound = ErrorKind("ErrNotFound")

	// ErrOperationCanceled indicates a transport operation was canceled.
	ErrOperationCanceled = ErrorKind("ErrOperationCanceled")

	// ErrConnectFailed indicates the transport failed to connect.
	ErrConnectFailed = ErrorKind("ErrConnectFailed")

	// ErrChannelDropped indicates the remote end closed the connection.
	ErrChannelDropped = ErrorKind("ErrChannelDropped")

	// ErrChannelStopped indicates an operation was attempted on a stopped
	// channel or that a channel was stopped locally.
	ErrChannelStopped = ErrorKind("ErrChannelStopped")

	// ErrAcceptFailed indicates the listener failed to accept a connection.
	ErrAcceptFailed = ErrorKind("ErrAcceptFailed")

	// ErrListenFailed indicates a listener could not be bound.
	ErrListenFailed = ErrorKind("ErrListenFailed")

	// ErrSeedingFailed indicates seeding did not add any address to an empty
	// host cache.
	ErrSeedingFailed = ErrorKind("ErrSeedingFailed")

	// ErrInvalidConfig indicates the service configuration is invalid.
	ErrInvalidConfig = ErrorKind("ErrInvalidConfig")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies a peer to peer error.  It has full support for errors.Is
// and errors.As, so the caller can ascertain the specific reason for the
// error by checking the underlying error.
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

// errServiceStopped is the error delivered to every handler that is owed a
// completion when the service stops.
var errServiceStopped = makeError(ErrServiceStopped, "service stopped")

// mapTransportError converts an error returned by the transport into the
// error kinds surfaced by this package.  Errors that already carry a kind
// from this package are returned unchanged.
func mapTransportError(err error) error {
	if err == nil {
		return nil
	}

	var kind ErrorKind
	if errors.As(err, &kind) {
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		kind = ErrOperationCanceled

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrChannelTimeout

	case errors.Is(err, io.EOF), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, net.ErrClosed):
		kind = ErrChannelDropped

	default:
		kind = ErrConnectFailed
	}
	return makeError(kind, err.Error())
}

// errorLabel returns a short label describing the kind of the provided error
// for use in metrics.
func errorLabel(err error) string {
	if err == nil {
		return "success"
	}
	var kind ErrorKind
	if errors.As(err, &kind) {
		return string(kind)
	}
	return "other"
}
