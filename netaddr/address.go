// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netaddr

import (
	"time"
)

// Address is an entry of the host cache.  It associates an endpoint with the
// last time the peer was known to be active and the services it advertised.
type Address struct {
	Endpoint  Endpoint  `json:"endpoint"`
	Timestamp time.Time `json:"timestamp"`
	Services  uint64    `json:"services,omitempty"`
}

// NewAddress returns an address for the provided endpoint and timestamp.  The
// timestamp is truncated to one second precision which is all the peer
// protocol carries.
func NewAddress(ep Endpoint, timestamp time.Time, services uint64) Address {
	return Address{
		Endpoint:  ep,
		Timestamp: timestamp.Truncate(time.Second),
		Services:  services,
	}
}

// Key returns the key that uniquely identifies the address in a host cache.
func (a Address) Key() string {
	return a.Endpoint.String()
}

// String returns the address in host:port form.
func (a Address) String() string {
	return a.Endpoint.String()
}
