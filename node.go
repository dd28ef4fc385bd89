// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2025 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/decred/go-socks/socks"
	"github.com/mvsnet/p2pd/hostcache"
	"github.com/mvsnet/p2pd/p2p"
	"github.com/mvsnet/p2pd/resolver"
)

const (
	// statusInterval is the interval between status log messages.
	statusInterval = time.Minute * 5

	// dnsServerTimeout is the timeout of a single query to a configured DNS
	// server.
	dnsServerTimeout = time.Second * 5
)

// simpleAddr implements the net.Addr interface with two struct fields.
type simpleAddr struct {
	net, addr string
}

// String returns the address.
//
// This is part of the net.Addr interface.
func (a simpleAddr) String() string {
	return a.addr
}

// Network returns the network.
//
// This is part of the net.Addr interface.
func (a simpleAddr) Network() string {
	return a.net
}

// Ensure simpleAddr implements the net.Addr interface.
var _ net.Addr = simpleAddr{}

// parseListeners determines whether each listen address is IPv4 and IPv6 and
// returns a slice of appropriate net.Addrs to listen on with TCP.  It also
// properly detects addresses which apply to "all interfaces" and adds the
// address as both IPv4 and IPv6.
func parseListeners(addrs []string) ([]net.Addr, error) {
	netAddrs := make([]net.Addr, 0, len(addrs)*2)
	for _, addr := range addrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			// Shouldn't happen due to already being normalized.
			return nil, err
		}

		// Empty host or host of * on plan9 is both IPv4 and IPv6.
		if host == "" || (host == "*" && runtime.GOOS == "plan9") {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
			continue
		}

		// Strip IPv6 zone id if present since net.ParseIP does not
		// handle it.
		zoneIndex := strings.LastIndex(host, "%")
		if zoneIndex > 0 {
			host = host[:zoneIndex]
		}

		// Parse the IP.
		ip := net.ParseIP(host)
		if ip == nil {
			str := "'%s' is not a valid IP address"
			return nil, fmt.Errorf(str, host)
		}

		// To4 returns nil when the IP is not an IPv4 address, so use
		// this determine the address type.
		if ip.To4() == nil {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
		} else {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
		}
	}
	return netAddrs, nil
}

// listenFunc returns a listen function that binds the network family matching
// each normalized listen address.
func listenFunc() p2p.ListenFunc {
	return func(_, address string) (net.Listener, error) {
		netAddrs, err := parseListeners([]string{address})
		if err != nil {
			return nil, err
		}

		// Addresses for all interfaces bind the dual stack listener.
		network := "tcp"
		if len(netAddrs) == 1 {
			network = netAddrs[0].Network()
		}
		return net.Listen(network, address)
	}
}

// protocolLogger attaches protocols to channels by logging them.  Wire level
// protocols are provided by the applications built on the service.
type protocolLogger struct{}

// AttachProtocol logs the role being attached to the channel.
//
// This is part of the p2p.ProtocolAttacher interface.
func (protocolLogger) AttachProtocol(ch *p2p.Channel, role p2p.Role) error {
	netwLog.Tracef("Attached %v protocol to %v", role, ch)
	return nil
}

// node houses the peer to peer service along with the resources it owns.
type node struct {
	cfg     *config
	store   *hostcache.LevelDBStore
	service *p2p.Service
}

// newNode returns a node configured by the passed config.  The host cache
// database is opened in the data directory when the host cache is enabled.
func newNode(cfg *config) (*node, error) {
	n := node{cfg: cfg}

	// Use Tor to resolve hostnames when a proxy is configured so no queries
	// leak outside of it.  Otherwise use the configured DNS server or the
	// system resolver.
	var res p2p.Resolver
	switch {
	case cfg.Proxy != "":
		res = resolver.NewTor(cfg.Proxy)
	case cfg.DNSServer != "":
		dns, err := resolver.NewDNS(cfg.DNSServer, dnsServerTimeout)
		if err != nil {
			return nil, err
		}
		res = dns
	default:
		res = resolver.NewSystem()
	}

	// Connect through the proxy when one is configured.
	var dial p2p.DialFunc
	if cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:         cfg.Proxy,
			Username:     cfg.ProxyUser,
			Password:     cfg.ProxyPass,
			TorIsolation: cfg.TorIsolation,
		}
		dial = proxy.DialContext
	}

	// Open the host cache database when the host cache is enabled.
	var store hostcache.Store
	if cfg.HostCacheSize > 0 {
		db, err := hostcache.OpenLevelDB(cfg.hostCacheDB)
		if err != nil {
			return nil, err
		}
		n.store = db
		store = db
	}
	hosts := hostcache.NewWithCapacity(cfg.HostCacheSize, store,
		cfg.HostCacheFlush)

	service, err := p2p.NewService(&p2p.Config{
		Threads:             cfg.Threads,
		ConnectTimeout:      cfg.DialTimeout,
		Peers:               cfg.peers,
		UseTestnetRules:     cfg.params.TestnetRules,
		Seeds:               cfg.seeds,
		DNSSeeds:            cfg.DNSSeeds,
		SeedTimeout:         cfg.SeedTimeout,
		DefaultPort:         cfg.params.DefaultPort,
		Listeners:           cfg.Listeners,
		InboundConnections:  cfg.MaxInbound,
		OutboundConnections: cfg.TargetOutbound,
		OutboundRate:        cfg.OutboundRate,
		ManualAttemptLimit:  cfg.ManualAttempts,
		ManualRetryInterval: cfg.ManualRetry,
		DialPolicy:          cfg.dialPolicy,
		Resolver:            res,
		Dial:                dial,
		Listen:              listenFunc(),
		HostCache:           hosts,
		Protocols:           protocolLogger{},
	})
	if err != nil {
		n.closeStore()
		return nil, err
	}
	n.service = service
	return &n, nil
}

// closeStore closes the host cache database when it is open.
func (n *node) closeStore() {
	if n.store == nil {
		return
	}
	if err := n.store.Close(); err != nil {
		p2pdLog.Errorf("Unable to close host cache database: %v", err)
	}
	n.store = nil
}

// await invokes fn with a completion handler and blocks until the handler is
// invoked or the context is canceled.
func await(ctx context.Context, fn func(handler func(error))) error {
	result := make(chan error, 1)
	fn(func(err error) {
		result <- err
	})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logConnection logs channels as they are registered with the service.
func (n *node) logConnection(err error, ch *p2p.Channel) bool {
	if err != nil {
		return false
	}
	direction := "outbound"
	if ch.Inbound() {
		direction = "inbound"
	}
	p2pdLog.Debugf("New %s channel %v (%d connected)", direction, ch,
		n.service.ConnectedCount())
	ch.SubscribeStop(func(reason error) {
		p2pdLog.Debugf("Channel %v stopped: %v", ch, reason)
	})
	return true
}

// statusHandler periodically logs the number of connected peers and known
// addresses until the context is canceled.
func (n *node) statusHandler(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p2pdLog.Infof("%d connected peers, %d known addresses",
				n.service.ConnectedCount(), n.service.AddressCount())

		case <-ctx.Done():
			return
		}
	}
}

// Run starts the service and runs it until the context is canceled.  Failure
// to seed the host cache is logged and does not prevent the node from running.
func (n *node) Run(ctx context.Context) error {
	defer n.closeStore()

	err := await(ctx, n.service.Start)
	switch {
	case shutdownRequested(ctx):
		n.service.Close()
		return nil

	case errors.Is(err, p2p.ErrSeedingFailed):
		p2pdLog.Warnf("Unable to seed the host cache: %v", err)

	case err != nil:
		n.service.Close()
		return err
	}
	p2pdLog.Infof("Service started with %d known addresses",
		n.service.AddressCount())

	n.service.SubscribeConnection(n.logConnection)
	n.service.SubscribeStop(func(err error) {
		p2pdLog.Debugf("Service stopped: %v", err)
	})

	err = await(ctx, n.service.Run)
	if err != nil || shutdownRequested(ctx) {
		n.service.Close()
		if shutdownRequested(ctx) {
			return nil
		}
		return err
	}
	p2pdLog.Infof("Service running (inbound %d, outbound %d, peers %d)",
		n.cfg.MaxInbound, n.cfg.TargetOutbound, len(n.cfg.peers))

	// Block until shutdown is requested.
	n.statusHandler(ctx)

	p2pdLog.Warnf("Service shutting down")
	if err := n.service.Close(); err != nil {
		p2pdLog.Errorf("Unable to save the host cache: %v", err)
		return err
	}
	p2pdLog.Trace("Service stopped")
	return nil
}
