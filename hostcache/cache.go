// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hostcache

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/container/lru"
	"github.com/decred/dcrd/crypto/rand"
	"github.com/decred/slog"
	"github.com/mvsnet/p2pd/netaddr"
)

// log is a logger that is initialized with no output filters.  This means the
// package will not perform any logging by default until the caller requests
// it.
var log = slog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger slog.Logger) {
	log = logger
}

// DefaultFlushInterval is the interval between periodic flushes of the cache
// to its backing store when none is configured.
const DefaultFlushInterval = time.Minute * 10

// Config houses the parameters of a host cache.
type Config struct {
	// Capacity is the maximum number of addresses the cache holds.  The
	// least recently stored addresses are evicted first.  A capacity of zero
	// disables the cache entirely.
	Capacity uint32

	// Store is the optional backing store the cache is loaded from on start
	// and flushed to periodically and on stop.  The cache does not close it.
	Store Store

	// FlushInterval is the interval between periodic flushes.
	FlushInterval time.Duration
}

// Cache is a bounded address book used to discover outbound peers.  All
// methods are safe for concurrent access.
type Cache struct {
	cfg Config

	// entries is nil when the cache is disabled.  The map provides its own
	// synchronization.
	entries *lru.Map[string, netaddr.Address]
	dirty   atomic.Bool

	// mtx protects the lifecycle fields.
	mtx     sync.Mutex
	running bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New returns a host cache with the provided configuration.  It must be
// started before it is used by a service.
func New(cfg *Config) *Cache {
	c := &Cache{cfg: *cfg}
	if c.cfg.FlushInterval <= 0 {
		c.cfg.FlushInterval = DefaultFlushInterval
	}
	if c.cfg.Capacity > 0 {
		c.entries = lru.NewMap[string, netaddr.Address](c.cfg.Capacity)
	}
	return c
}

// flushHandler periodically writes the cache to the backing store until the
// cache is stopped.  It must be run as a goroutine.
func (c *Cache) flushHandler(quit <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.flush(); err != nil {
				log.Errorf("Periodic host cache flush failed: %v", err)
			}

		case <-quit:
			log.Trace("Host cache flush handler done")
			return
		}
	}
}

// flush writes the cache to the backing store when it changed since the last
// flush.
func (c *Cache) flush() error {
	if c.cfg.Store == nil || c.entries == nil || !c.dirty.Swap(false) {
		return nil
	}
	addrs := c.entries.Values()
	if err := c.cfg.Store.Save(addrs); err != nil {
		c.dirty.Store(true)
		return err
	}
	log.Debugf("Flushed %d addresses to the host cache store", len(addrs))
	return nil
}

// Start loads the cache from its backing store and begins flushing it
// periodically.  Calling Start on a running cache has no effect.
func (c *Cache) Start() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.running || c.entries == nil {
		return nil
	}

	if c.cfg.Store != nil {
		addrs, err := c.cfg.Store.Load()
		if err != nil {
			str := fmt.Sprintf("unable to load host cache: %v", err)
			return makeError(ErrLoadFailed, str)
		}
		// Addresses stored before the cache was started still need to be
		// flushed.
		dirty := c.dirty.Load()
		for _, addr := range addrs {
			c.put(addr)
		}
		c.dirty.Store(dirty)
		log.Infof("Loaded %d addresses into the host cache", c.entries.Len())
	}

	c.running = true
	c.quit = make(chan struct{})
	c.wg.Add(1)
	go c.flushHandler(c.quit)
	return nil
}

// Stop halts periodic flushing and flushes the cache to its backing store one
// final time.  The returned error is the result of that final flush.  Calling
// Stop on a cache that is not running has no effect.
func (c *Cache) Stop() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if !c.running {
		return nil
	}
	c.running = false
	close(c.quit)
	c.wg.Wait()

	if err := c.flush(); err != nil {
		str := fmt.Sprintf("unable to flush host cache: %v", err)
		return makeError(ErrFlushFailed, str)
	}
	return nil
}

// Count returns the number of addresses in the cache.
func (c *Cache) Count() int {
	if c.entries == nil {
		return 0
	}
	return int(c.entries.Len())
}

// Fetch returns a random address whose authority is not in the provided
// exclusion list.  Addresses with a hostname are never excluded since their
// authority is not known until resolved.  ErrNotFound is returned when the
// cache is empty or every address is excluded.
func (c *Cache) Fetch(exclude []netaddr.Authority) (netaddr.Address, error) {
	if c.Count() == 0 {
		return netaddr.Address{}, makeError(ErrNotFound, "host cache is empty")
	}

	excluded := make(map[netaddr.Authority]struct{}, len(exclude))
	for _, auth := range exclude {
		excluded[auth] = struct{}{}
	}

	addrs := c.entries.Values()
	rand.Shuffle(len(addrs), func(i, j int) {
		addrs[i], addrs[j] = addrs[j], addrs[i]
	})
	for _, addr := range addrs {
		if auth, ok := addr.Endpoint.Authority(); ok {
			if _, ok := excluded[auth]; ok {
				continue
			}
		}
		return addr, nil
	}
	return netaddr.Address{}, makeError(ErrNotFound,
		"all host cache addresses are excluded")
}

// put adds or refreshes an address keeping the most recent timestamp.
func (c *Cache) put(addr netaddr.Address) {
	key := addr.Key()
	if existing, ok := c.entries.Peek(key); ok &&
		existing.Timestamp.After(addr.Timestamp) {

		addr.Timestamp = existing.Timestamp
	}
	c.entries.Put(key, addr)
	c.dirty.Store(true)
}

// Store adds an address to the cache, evicting the least recently stored
// address when the cache is full.  It has no effect when the cache is
// disabled.
func (c *Cache) Store(addr netaddr.Address) error {
	if !addr.Endpoint.IsValid() {
		str := fmt.Sprintf("invalid address %q", addr)
		return makeError(ErrInvalidAddress, str)
	}
	if c.entries == nil {
		return nil
	}
	c.put(addr)
	return nil
}

// StoreAll adds the provided addresses to the cache asynchronously and then
// invokes the handler with the first error encountered, if any.  Invalid
// addresses are skipped rather than aborting the remaining stores.
func (c *Cache) StoreAll(addrs []netaddr.Address, handler func(error)) {
	go func() {
		var firstErr error
		for _, addr := range addrs {
			if err := c.Store(addr); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		log.Tracef("Stored %d addresses (%d total)", len(addrs), c.Count())
		if handler != nil {
			handler(firstErr)
		}
	}()
}

// Remove removes the address from the cache.  ErrNotFound is returned when
// it is not present.
func (c *Cache) Remove(addr netaddr.Address) error {
	key := addr.Key()
	if c.entries == nil || !c.entries.Exists(key) {
		str := fmt.Sprintf("address %s not in host cache", key)
		return makeError(ErrNotFound, str)
	}
	c.entries.Delete(key)
	c.dirty.Store(true)
	return nil
}

// Copy returns a snapshot of every address in the cache.
func (c *Cache) Copy() []netaddr.Address {
	if c.entries == nil {
		return nil
	}
	return c.entries.Values()
}

// Capacity returns the maximum number of addresses the cache holds.
func (c *Cache) Capacity() uint32 {
	return c.cfg.Capacity
}

// clampCapacity converts a configured capacity to the cache capacity type.
func clampCapacity(n int) uint32 {
	switch {
	case n < 0:
		return 0
	case uint64(n) > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(n)
}

// NewWithCapacity is a convenience for creating a cache from an integer
// capacity as provided by configuration.
func NewWithCapacity(capacity int, store Store, flushInterval time.Duration) *Cache {
	return New(&Config{
		Capacity:      clampCapacity(capacity),
		Store:         store,
		FlushInterval: flushInterval,
	})
}
