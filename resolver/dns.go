// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// defaultDNSTimeout is the timeout applied to each individual query sent to
// the name server when the caller does not specify one.
const defaultDNSTimeout = time.Second * 5

// DNS resolves names by querying a specific name server directly for A and
// AAAA records.  It is used when the operator does not want to rely on the
// system resolver configuration.
type DNS struct {
	server string
	client *dns.Client
}

// NewDNS returns a resolver that queries the provided name server.  The
// server is an ip:port pair; port 53 is assumed when it is omitted.
func NewDNS(server string, timeout time.Duration) (*DNS, error) {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	if _, err := netip.ParseAddrPort(server); err != nil {
		return nil, fmt.Errorf("invalid name server %q: %w", server, err)
	}
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	return &DNS{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}, nil
}

// query sends a single question for the provided record type and returns the
// addresses in the answer section.  Truncated responses are retried over TCP.
func (d *DNS) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	resp, _, err := d.client.ExchangeContext(ctx, msg, d.server)
	if err == nil && resp.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: d.client.Timeout}
		resp, _, err = tcp.ExchangeContext(ctx, msg, d.server)
	}
	if err != nil {
		return nil, err
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, nil
	default:
		str := fmt.Sprintf("query %s %s: %s", host, dns.TypeToString[qtype],
			dns.RcodeToString[resp.Rcode])
		return nil, makeError(ErrLookupFailed, str)
	}

	var addrs []netip.Addr
	for _, rr := range resp.Answer {
		var ip net.IP
		switch rec := rr.(type) {
		case *dns.A:
			ip = rec.A
		case *dns.AAAA:
			ip = rec.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}
	return addrs, nil
}

// LookupHost returns the IPv4 addresses of the host followed by its IPv6
// addresses.  An error is only returned when neither query succeeds or when
// no addresses exist.
func (d *DNS) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, ok := literal(host); ok {
		return []netip.Addr{addr}, nil
	}

	v4, errV4 := d.query(ctx, host, dns.TypeA)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	v6, errV6 := d.query(ctx, host, dns.TypeAAAA)
	if errV4 != nil && errV6 != nil {
		return nil, errV4
	}

	addrs := dedup(append(v4, v6...))
	if len(addrs) == 0 {
		str := fmt.Sprintf("no addresses found for %q", host)
		return nil, makeError(ErrNoAddresses, str)
	}
	log.Tracef("Resolved %s via %s to %v", host, d.server, addrs)
	return addrs, nil
}
