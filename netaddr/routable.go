// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netaddr

import (
	"net/netip"
)

var (
	// rfc1918Nets specifies the IPv4 private address blocks as defined by
	// RFC1918 (10.0.0.0/8, 172.16.0.0/12, and 192.168.0.0/16).
	rfc1918Nets = []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
	}

	// rfc5737Nets specifies the IPv4 documentation address blocks as
	// defined by RFC5737.
	rfc5737Nets = []netip.Prefix{
		netip.MustParsePrefix("192.0.2.0/24"),
		netip.MustParsePrefix("198.51.100.0/24"),
		netip.MustParsePrefix("203.0.113.0/24"),
	}

	rfc2544Net  = netip.MustParsePrefix("198.18.0.0/15")
	rfc3849Net  = netip.MustParsePrefix("2001:db8::/32")
	rfc3927Net  = netip.MustParsePrefix("169.254.0.0/16")
	rfc4193Net  = netip.MustParsePrefix("fc00::/7")
	rfc4843Net  = netip.MustParsePrefix("2001:10::/28")
	rfc4862Net  = netip.MustParsePrefix("fe80::/64")
	rfc6598Net  = netip.MustParsePrefix("100.64.0.0/10")
	zero4Net    = netip.MustParsePrefix("0.0.0.0/8")
	onionCatNet = netip.MustParsePrefix("fd87:d87e:eb43::/48")
)

// containsAny returns whether any of the provided prefixes contain the
// address.
func containsAny(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// isLocal returns whether or not the given address is a local address.
func isLocal(addr netip.Addr) bool {
	return addr.IsLoopback() || zero4Net.Contains(addr)
}

// isValid returns whether or not the passed address is valid.  Unspecified
// and IPv4 broadcast addresses are invalid.
func isValid(addr netip.Addr) bool {
	return addr.IsValid() && !addr.IsUnspecified() &&
		addr != netip.AddrFrom4([4]byte{255, 255, 255, 255})
}

// IsRoutable returns whether or not the passed address is routable over the
// public internet.  This is true as long as the address is valid and is not
// in any reserved ranges.
func IsRoutable(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !isValid(addr) {
		return false
	}
	return !(containsAny(rfc1918Nets, addr) || rfc2544Net.Contains(addr) ||
		rfc3927Net.Contains(addr) || rfc4862Net.Contains(addr) ||
		rfc3849Net.Contains(addr) || rfc4843Net.Contains(addr) ||
		containsAny(rfc5737Nets, addr) || rfc6598Net.Contains(addr) ||
		isLocal(addr) ||
		(rfc4193Net.Contains(addr) && !onionCatNet.Contains(addr)))
}

// IsRoutableEndpoint returns whether the endpoint may be used to reach a peer
// over the public internet.  Hostnames are considered routable since they can
// only be judged once resolved.
func IsRoutableEndpoint(ep Endpoint) bool {
	addr, err := netip.ParseAddr(ep.Host)
	if err != nil {
		return ep.Host != "" && ep.Host != "localhost"
	}
	return IsRoutable(addr)
}
