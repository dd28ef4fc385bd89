// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"time"

	"github.com/mvsnet/p2pd/hostcache"
	"github.com/mvsnet/p2pd/netaddr"
	"github.com/mvsnet/p2pd/resolver"
)

const (
	// DefaultConnectTimeout is the per attempt connection timeout used when
	// none is configured.
	DefaultConnectTimeout = time.Second * 5

	// DefaultSeedTimeout is the maximum amount of time a seed channel is
	// kept open to collect addresses.
	DefaultSeedTimeout = time.Second * 30

	// DefaultManualRetryInterval is the base interval between attempts to
	// connect to a manual peer.
	DefaultManualRetryInterval = time.Second * 5

	// DefaultOutboundRate is the default maximum number of outbound
	// connection attempts started per second.
	DefaultOutboundRate = 4.0

	// maxRetryDuration is the maximum interval between attempts to connect
	// to a manual peer.
	maxRetryDuration = time.Minute * 5
)

// DialPolicy determines which of the addresses a hostname resolves to are
// dialed.
type DialPolicy uint8

const (
	// DialAll dials every resolved address concurrently and reports each
	// outcome separately, so a single connect may produce several channels.
	DialAll DialPolicy = iota

	// DialFirst only dials the first resolved address, so a single connect
	// produces exactly one outcome.
	DialFirst
)

// String returns the name of the dial policy.
func (p DialPolicy) String() string {
	switch p {
	case DialAll:
		return "all"
	case DialFirst:
		return "first"
	}
	return fmt.Sprintf("unknown dial policy (%d)", uint8(p))
}

// ParseDialPolicy returns the dial policy with the provided name.
func ParseDialPolicy(s string) (DialPolicy, error) {
	switch s {
	case "all", "":
		return DialAll, nil
	case "first":
		return DialFirst, nil
	}
	str := fmt.Sprintf("unknown dial policy %q", s)
	return DialAll, makeError(ErrInvalidConfig, str)
}

// Resolver resolves a hostname into an ordered list of addresses.  The lookup
// must abort when the context is canceled.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// DialFunc establishes a connection to the provided address.  The dial must
// abort when the context is canceled.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ListenFunc binds a listener to the provided address.
type ListenFunc func(network, address string) (net.Listener, error)

// HostCache is the address book the service draws outbound peers from.
// Implementations must be safe for concurrent access.
type HostCache interface {
	// Start loads the cache.
	Start() error

	// Stop flushes the cache.  Its error is the result of Service.Stop.
	Stop() error

	// Count returns the number of addresses in the cache.
	Count() int

	// Fetch returns an address whose authority is not excluded.
	Fetch(exclude []netaddr.Authority) (netaddr.Address, error)

	// Store adds a single address.
	Store(addr netaddr.Address) error

	// StoreAll adds the addresses asynchronously and invokes the handler
	// once done.
	StoreAll(addrs []netaddr.Address, handler func(error))

	// Remove removes an address.
	Remove(addr netaddr.Address) error

	// Copy returns a snapshot of every address.
	Copy() []netaddr.Address
}

// Ensure the bundled host cache implements the HostCache interface.
var _ HostCache = (*hostcache.Cache)(nil)

// Role identifies a protocol that is attached to a channel.
type Role uint8

// These constants define the protocol roles that sessions attach to channels.
const (
	RoleVersion Role = iota
	RolePing
	RoleAddress
	RoleSeed
	RoleBlockIn
	RoleBlockOut
	RoleTransactionIn
	RoleTransactionOut
)

// roleStrings is a map of roles back to their constant names for pretty
// printing.
var roleStrings = map[Role]string{
	RoleVersion:        "version",
	RolePing:           "ping",
	RoleAddress:        "address",
	RoleSeed:           "seed",
	RoleBlockIn:        "block-in",
	RoleBlockOut:       "block-out",
	RoleTransactionIn:  "transaction-in",
	RoleTransactionOut: "transaction-out",
}

// String returns the Role in human-readable form.
func (r Role) String() string {
	if s, ok := roleStrings[r]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Role (%d)", uint8(r))
}

// fullRoles are the roles attached to manual, inbound, and outbound channels
// after the version role.
var fullRoles = []Role{RolePing, RoleAddress, RoleBlockIn, RoleBlockOut,
	RoleTransactionIn, RoleTransactionOut}

// ProtocolAttacher attaches the protocol handlers for a role to a channel and
// starts them.  It must not block.
type ProtocolAttacher interface {
	AttachProtocol(ch *Channel, role Role) error
}

// AttachFunc is an adapter to allow the use of ordinary functions as
// protocol attachers.
type AttachFunc func(ch *Channel, role Role) error

// AttachProtocol calls f(ch, role).
func (f AttachFunc) AttachProtocol(ch *Channel, role Role) error {
	return f(ch, role)
}

// Config houses the parameters of the peer to peer service.
type Config struct {
	// Threads is the number of workers that run completions.  Zero uses
	// the number of CPUs.
	Threads int

	// ConnectTimeout bounds every connection attempt.
	ConnectTimeout time.Duration

	// Peers are connected through the manual session when the service runs
	// and are reconnected whenever they drop.
	Peers []netaddr.Endpoint

	// UseTestnetRules allows non-routable addresses to be stored in the
	// host cache.
	UseTestnetRules bool

	// Seeds are peers connected to only to collect addresses when the host
	// cache is empty.
	Seeds []netaddr.Endpoint

	// DNSSeeds are hostnames whose addresses are stored in the host cache
	// when it is empty.
	DNSSeeds []string

	// SeedTimeout is the maximum time a seed channel is kept open.
	SeedTimeout time.Duration

	// DefaultPort is the port assumed for DNS seed results and for peers
	// configured without a port.
	DefaultPort uint16

	// Listeners are the addresses the inbound session accepts connections
	// on.
	Listeners []string

	// InboundConnections is the maximum number of inbound channels.  Zero
	// disables the inbound session.
	InboundConnections int

	// OutboundConnections is the target number of outbound channels.  Zero
	// disables the outbound session.
	OutboundConnections int

	// OutboundRate is the maximum number of outbound connection attempts
	// per second.
	OutboundRate float64

	// ManualAttemptLimit is the maximum number of consecutive failed
	// attempts to connect to a manual peer before giving up.  Zero retries
	// forever.
	ManualAttemptLimit int

	// ManualRetryInterval is the base interval between manual attempts.
	ManualRetryInterval time.Duration

	// DialPolicy is the dial policy used by the manual session and by
	// connectors created with Service.NewConnector.
	DialPolicy DialPolicy

	// Resolver resolves hostnames.  It defaults to the system resolver.
	Resolver Resolver

	// Dial establishes connections.  It defaults to a net.Dialer.
	Dial DialFunc

	// Listen binds listeners.  It defaults to net.Listen.
	Listen ListenFunc

	// HostCache is the address book.  It defaults to a disabled cache.
	HostCache HostCache

	// Protocols attaches protocols to new channels.  Channels have no
	// protocols attached when it is nil.
	Protocols ProtocolAttacher
}

// normalize validates the configuration and fills in defaults.
func (cfg *Config) normalize() error {
	switch {
	case cfg.Threads < 0:
		return makeError(ErrInvalidConfig, "threads may not be negative")
	case cfg.InboundConnections < 0:
		return makeError(ErrInvalidConfig,
			"inbound connections may not be negative")
	case cfg.OutboundConnections < 0:
		return makeError(ErrInvalidConfig,
			"outbound connections may not be negative")
	case cfg.ManualAttemptLimit < 0:
		return makeError(ErrInvalidConfig,
			"manual attempt limit may not be negative")
	case cfg.DialPolicy > DialFirst:
		return makeError(ErrInvalidConfig, cfg.DialPolicy.String())
	}

	if cfg.Threads == 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.SeedTimeout <= 0 {
		cfg.SeedTimeout = DefaultSeedTimeout
	}
	if cfg.ManualRetryInterval <= 0 {
		cfg.ManualRetryInterval = DefaultManualRetryInterval
	}
	if cfg.OutboundRate <= 0 {
		cfg.OutboundRate = DefaultOutboundRate
	}
	if cfg.Resolver == nil {
		cfg.Resolver = resolver.NewSystem()
	}
	if cfg.Dial == nil {
		var dialer net.Dialer
		cfg.Dial = dialer.DialContext
	}
	if cfg.Listen == nil {
		cfg.Listen = net.Listen
	}
	if cfg.HostCache == nil {
		cfg.HostCache = hostcache.New(&hostcache.Config{})
	}

	peers := make([]netaddr.Endpoint, 0, len(cfg.Peers))
	for _, peer := range cfg.Peers {
		if peer.Port == 0 {
			peer.Port = cfg.DefaultPort
		}
		if !peer.IsValid() {
			str := fmt.Sprintf("invalid peer %q", peer)
			return makeError(ErrInvalidConfig, str)
		}
		peers = append(peers, peer)
	}
	cfg.Peers = peers

	seeds := make([]netaddr.Endpoint, 0, len(cfg.Seeds))
	for _, seed := range cfg.Seeds {
		if seed.Port == 0 {
			seed.Port = cfg.DefaultPort
		}
		if !seed.IsValid() {
			str := fmt.Sprintf("invalid seed %q", seed)
			return makeError(ErrInvalidConfig, str)
		}
		seeds = append(seeds, seed)
	}
	cfg.Seeds = seeds

	return nil
}
