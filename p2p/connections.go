// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"fmt"
	"sync"

	"github.com/mvsnet/p2pd/netaddr"
)

// connections is the registry of active channels.  At most one channel per
// authority is registered at any time.
type connections struct {
	mtx      sync.RWMutex
	stopped  bool
	channels map[netaddr.Authority]*Channel
}

// newConnections returns an empty, stopped registry.
func newConnections() *connections {
	initPrometheusMetrics()
	return &connections{
		stopped:  true,
		channels: make(map[netaddr.Authority]*Channel),
	}
}

// start opens the registry to new channels.
func (c *connections) start() {
	c.mtx.Lock()
	c.stopped = false
	c.mtx.Unlock()
}

// store registers the channel.  ErrAddressInUse is returned when a channel
// with the same authority is registered and ErrServiceStopped when the
// registry is stopped.  The channel is removed automatically when it stops.
func (c *connections) store(ch *Channel) error {
	c.mtx.Lock()
	if c.stopped {
		c.mtx.Unlock()
		return errServiceStopped
	}
	if _, ok := c.channels[ch.Authority()]; ok {
		c.mtx.Unlock()
		str := fmt.Sprintf("already connected to %s", ch.Authority())
		return makeError(ErrAddressInUse, str)
	}
	c.channels[ch.Authority()] = ch
	ch.pooled.Store(true)
	c.mtx.Unlock()

	prometheusChannels.Inc()
	ch.SubscribeStop(func(error) {
		c.remove(ch)
	})
	return nil
}

// remove deregisters the channel.  It is a no-op when the channel is not
// registered.
func (c *connections) remove(ch *Channel) {
	c.mtx.Lock()
	cur, ok := c.channels[ch.Authority()]
	if !ok || cur != ch {
		c.mtx.Unlock()
		return
	}
	delete(c.channels, ch.Authority())
	ch.pooled.Store(false)
	c.mtx.Unlock()

	prometheusChannels.Dec()
}

// exists returns whether a channel with the authority is registered.
func (c *connections) exists(authority netaddr.Authority) bool {
	c.mtx.RLock()
	_, ok := c.channels[authority]
	c.mtx.RUnlock()
	return ok
}

// count returns the number of registered channels.
func (c *connections) count() int {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return len(c.channels)
}

// authorities returns the authorities of all registered channels.
func (c *connections) authorities() []netaddr.Authority {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	auths := make([]netaddr.Authority, 0, len(c.channels))
	for auth := range c.channels {
		auths = append(auths, auth)
	}
	return auths
}

// stop closes the registry to new channels and stops every registered
// channel with the provided reason.  The channels remove themselves.
func (c *connections) stop(reason error) {
	c.mtx.Lock()
	c.stopped = true
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mtx.Unlock()

	for _, ch := range channels {
		ch.Stop(reason)
	}
}
