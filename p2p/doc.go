// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package p2p implements the connection layer of a peer to peer node.

The package establishes, tracks, and tears down connections to other nodes.
Wire level protocols are not part of the package.  Instead, every new
connection is wrapped in a [Channel] onto which the protocols for a set of
roles are attached through a [ProtocolAttacher].

# Service

A [Service] owns a worker pool, a registry of channels with at most one channel
per remote authority, and a [HostCache] of known peer addresses.  It moves
through three steps:

  - Start loads the host cache and seeds it from DNS seeds and seed peers when
    it is empty
  - Run connects the configured peers and begins accepting inbound and making
    outbound connections
  - Stop or Close tears everything down

Every asynchronous operation reports its outcome to a handler exactly once,
including when the service stops while the operation is in flight, in which
case the error is [ErrServiceStopped].  Handlers never run in the goroutine of
the caller that started the operation.

# Connector

A [Connector] resolves a hostname and dials the resolved addresses.  Each
attempt races the dial against a timeout, and stopping the connector cancels
every resolution and attempt in flight.

# Errors

Errors returned from this package are of type [Error] and wrap an [ErrorKind]
that can be tested for with errors.Is.
*/
package p2p
