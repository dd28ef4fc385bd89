// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netaddr

import (
	"fmt"
	"net"
	"net/netip"
)

// Authority is the canonical identity of a connected or connectable peer: a
// resolved IP address and port.  IPv4-mapped IPv6 addresses are always
// unmapped so the same peer never has two distinct authorities.
//
// Authorities are comparable and are used as map keys.
type Authority struct {
	ap netip.AddrPort
}

// NewAuthority returns the authority for the provided address and port.
func NewAuthority(addr netip.Addr, port uint16) Authority {
	return Authority{ap: netip.AddrPortFrom(addr.Unmap().WithZone(""), port)}
}

// ParseAuthority parses an ip:port string into an authority.
func ParseAuthority(s string) (Authority, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Authority{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	return NewAuthority(ap.Addr(), ap.Port()), nil
}

// AuthorityFromNetAddr returns the authority for the provided network
// address.  Only TCP and UDP addresses, or addresses whose string form is an
// ip:port pair, are supported.
func AuthorityFromNetAddr(addr net.Addr) (Authority, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return NewAuthority(a.AddrPort().Addr(), uint16(a.Port)), nil
	case *net.UDPAddr:
		return NewAuthority(a.AddrPort().Addr(), uint16(a.Port)), nil
	}
	if addr == nil {
		return Authority{}, fmt.Errorf("%w: nil address", ErrInvalidEndpoint)
	}
	return ParseAuthority(addr.String())
}

// Addr returns the IP address of the authority.
func (a Authority) Addr() netip.Addr {
	return a.ap.Addr()
}

// Port returns the port of the authority.
func (a Authority) Port() uint16 {
	return a.ap.Port()
}

// AddrPort returns the authority as a netip.AddrPort.
func (a Authority) AddrPort() netip.AddrPort {
	return a.ap
}

// IsValid returns whether the authority holds a valid address.
func (a Authority) IsValid() bool {
	return a.ap.IsValid()
}

// Endpoint returns the authority as an endpoint.
func (a Authority) Endpoint() Endpoint {
	return EndpointFromAddr(a.ap.Addr(), a.ap.Port())
}

// String returns the authority in ip:port form.
func (a Authority) String() string {
	return a.ap.String()
}
