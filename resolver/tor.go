// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2019 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"context"
	"io"
	"net"
	"net/netip"
)

const (
	torGeneralError      = 0x01
	torNotAllowed        = 0x02
	torNetUnreachable    = 0x03
	torHostUnreachable   = 0x04
	torConnectionRefused = 0x05
	torTTLExpired        = 0x06
	torCmdNotSupported   = 0x07
	torAddrNotSupported  = 0x08

	torATypeIPv4       = 1
	torATypeDomainName = 3
	torATypeIPv6       = 4

	torCmdResolve = 240
)

var torStatusErrors = map[byte]Error{
	torGeneralError:      makeError(ErrTorGeneralError, "tor general error"),
	torNotAllowed:        makeError(ErrTorNotAllowed, "tor not allowed"),
	torNetUnreachable:    makeError(ErrTorNetUnreachable, "tor network is unreachable"),
	torHostUnreachable:   makeError(ErrTorHostUnreachable, "tor host is unreachable"),
	torConnectionRefused: makeError(ErrTorConnectionRefused, "tor connection refused"),
	torTTLExpired:        makeError(ErrTorTTLExpired, "tor TTL expired"),
	torCmdNotSupported:   makeError(ErrTorCmdNotSupported, "tor command not supported"),
	torAddrNotSupported:  makeError(ErrTorAddrNotSupported, "tor address type not supported"),
}

// Tor resolves names through the RESOLVE extension of a Tor SOCKS5 proxy so
// that lookups do not leak outside of the Tor network.
type Tor struct {
	proxy string
}

// NewTor returns a resolver that uses the Tor SOCKS5 proxy at the provided
// address.
func NewTor(proxy string) *Tor {
	return &Tor{proxy: proxy}
}

// LookupHost resolves the host via the proxy.  Tor only ever returns a single
// address.
func (t *Tor) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, ok := literal(host); ok {
		return []netip.Addr{addr}, nil
	}
	if len(host) > 255 {
		return nil, makeError(ErrTorInvalidAddressResponse,
			"host name too long")
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.proxy)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Abort blocking reads and writes when the context is canceled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	addr, err := torResolve(conn, host)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	log.Tracef("Resolved %s via tor to %v", host, addr)
	return []netip.Addr{addr}, nil
}

// torResolve performs the SOCKS5 RESOLVE exchange for host on conn.
func torResolve(conn io.ReadWriter, host string) (netip.Addr, error) {
	buf := []byte{0x05, 0x01, 0x00}
	if _, err := conn.Write(buf); err != nil {
		return netip.Addr{}, err
	}

	buf = make([]byte, 2)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return netip.Addr{}, err
	}
	if buf[0] != 0x05 {
		return netip.Addr{}, makeError(ErrTorInvalidProxyResponse,
			"invalid SOCKS proxy version")
	}
	if buf[1] != 0x00 {
		return netip.Addr{}, makeError(ErrTorUnrecognizedAuthMethod,
			"invalid proxy authentication method")
	}

	buf = make([]byte, 7+len(host))
	buf[0] = 5 // socks protocol version
	buf[1] = torCmdResolve
	buf[2] = 0 // reserved
	buf[3] = torATypeDomainName
	buf[4] = byte(len(host))
	copy(buf[5:], host)
	buf[5+len(host)] = 0 // Port 0

	if _, err := conn.Write(buf); err != nil {
		return netip.Addr{}, err
	}

	buf = make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return netip.Addr{}, err
	}
	if buf[0] != 5 {
		return netip.Addr{}, makeError(ErrTorInvalidProxyResponse,
			"invalid SOCKS proxy version")
	}
	if buf[1] != 0 {
		err, exists := torStatusErrors[buf[1]]
		if !exists {
			err = makeError(ErrTorInvalidProxyResponse,
				"invalid SOCKS proxy version")
		}
		return netip.Addr{}, err
	}

	var addrLen int
	switch buf[3] {
	case torATypeIPv4:
		addrLen = 4
	case torATypeIPv6:
		addrLen = 16
	default:
		return netip.Addr{}, makeError(ErrTorInvalidAddressResponse,
			"invalid IP address")
	}

	// The reply is the address followed by a two byte port.
	reply := make([]byte, addrLen+2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return netip.Addr{}, makeError(ErrTorInvalidAddressResponse,
			"short address response")
	}
	addr, _ := netip.AddrFromSlice(reply[:addrLen])
	return addr.Unmap(), nil
}
