// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/decred/slog"
)

// log is a logger that is initialized with no output filters.  This means the
// package will not perform any logging by default until the caller requests
// it.
var log = slog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger slog.Logger) {
	log = logger
}

// literal returns the address when host is an IP literal.  All resolvers
// short circuit literals so they never reach a name server.
func literal(host string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// dedup removes duplicate addresses while retaining the original order.
func dedup(addrs []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]struct{}, len(addrs))
	result := addrs[:0]
	for _, addr := range addrs {
		addr = addr.Unmap()
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		result = append(result, addr)
	}
	return result
}

// System resolves names through the operating system resolver.
type System struct {
	resolver *net.Resolver
}

// NewSystem returns a resolver backed by the default net.Resolver.
func NewSystem() *System {
	return &System{resolver: net.DefaultResolver}
}

// LookupHost returns the addresses of the provided host in the order the
// system resolver reports them.  The lookup is aborted when the context is
// canceled.
func (s *System) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, ok := literal(host); ok {
		return []netip.Addr{addr}, nil
	}

	addrs, err := s.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	addrs = dedup(addrs)
	if len(addrs) == 0 {
		str := fmt.Sprintf("no addresses found for %q", host)
		return nil, makeError(ErrNoAddresses, str)
	}
	log.Tracef("Resolved %s to %v", host, addrs)
	return addrs, nil
}
