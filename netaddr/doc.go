// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package netaddr provides the network address value types shared by the peer
to peer packages.

An [Endpoint] is a host and port exactly as configured or learned from other
peers, so its host may be a name that still needs resolution.  An [Authority]
is the resolved IP address and port that identifies a peer connection, and is
the key used to prevent duplicate connections.  An [Address] is a host cache
entry, an endpoint paired with the last time it was seen.
*/
package netaddr
