// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netaddr

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidEndpoint is returned when a string can not be parsed into a valid
// endpoint.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// idnaProfile is the profile used to convert internationalized hostnames to
// their ASCII form.  It is the lookup profile since endpoints are only ever
// used to look up hosts, never to register them.
var idnaProfile = idna.Lookup

// Endpoint is a host and port pair as it is provided by configuration or
// learned from other peers.  The host may either be an IP literal or a
// hostname that requires resolution.
//
// Endpoints are immutable values and are safe to compare with ==.
type Endpoint struct {
	Host string
	Port uint16
}

// NewEndpoint returns an endpoint for the provided host and port with the
// host normalized.  IP literals are converted to their canonical textual form
// and hostnames are lowercased and converted to their IDNA ASCII form.
func NewEndpoint(host string, port uint16) (Endpoint, error) {
	host, err := normalizeHost(host)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Host: host, Port: port}, nil
}

// EndpointFromAddr returns the endpoint for the provided IP address and
// port.
func EndpointFromAddr(addr netip.Addr, port uint16) Endpoint {
	return Endpoint{Host: addr.Unmap().String(), Port: port}
}

// normalizeHost returns the canonical form of the provided host.
func normalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return "", fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().WithZone("").String(), nil
	}
	ascii, err := idnaProfile.ToASCII(strings.ToLower(host))
	if err != nil {
		return "", fmt.Errorf("%w: host %q: %v", ErrInvalidEndpoint, host,
			err)
	}
	return ascii, nil
}

// ParseEndpoint parses a string of the form host, host:port, or [ipv6]:port
// into an endpoint.  The provided default port is used when the string does
// not specify one.
func ParseEndpoint(s string, defaultPort uint16) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty string", ErrInvalidEndpoint)
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// Assume there is no port when splitting fails.  Bare IPv6
		// addresses contain colons, so they also end up here.
		return NewEndpoint(s, defaultPort)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: bad port in %q", ErrInvalidEndpoint,
			s)
	}
	return NewEndpoint(host, uint16(port))
}

// String returns the endpoint in host:port form with IPv6 literals
// bracketed.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.FormatUint(uint64(e.Port), 10))
}

// IsValid returns whether the endpoint has both a host and a non-zero port.
func (e Endpoint) IsValid() bool {
	return e.Host != "" && e.Port != 0
}

// IsIP returns whether the host of the endpoint is an IP literal and thus
// does not require resolution.
func (e Endpoint) IsIP() bool {
	_, err := netip.ParseAddr(e.Host)
	return err == nil
}

// Authority returns the authority for the endpoint when its host is an IP
// literal.  The returned bool is false for hostnames.
func (e Endpoint) Authority() (Authority, bool) {
	addr, err := netip.ParseAddr(e.Host)
	if err != nil {
		return Authority{}, false
	}
	return NewAuthority(addr, e.Port), true
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface so endpoints may be
// used directly as command line and config file options.  Ports are not
// defaulted here, so a missing port results in a zero port which callers
// replace with the network default.
func (e *Endpoint) UnmarshalFlag(value string) error {
	ep, err := ParseEndpoint(value, 0)
	if err != nil {
		return err
	}
	*e = ep
	return nil
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (e Endpoint) MarshalFlag() (string, error) {
	if e.Port == 0 {
		return e.Host, nil
	}
	return e.String(), nil
}
