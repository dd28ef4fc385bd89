// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/decred/dcrd/crypto/rand"
	"github.com/mvsnet/p2pd/netaddr"
)

// Channel is an established connection to a peer onto which protocols are
// attached.  It owns the underlying connection and closes it when stopped.
//
// All methods are safe for concurrent access.
type Channel struct {
	conn      net.Conn
	authority netaddr.Authority
	inbound   bool
	nonce     uint64

	// notify indicates whether the channel is announced to connection
	// subscribers.  pooled indicates whether it is registered with the
	// connection pool.
	notify atomic.Bool
	pooled atomic.Bool

	rolesMtx sync.Mutex
	roles    []Role

	stopOnce sync.Once
	stopErr  error
	quit     chan struct{}
	stopSub  *subscriber[error]
}

// newChannel returns a channel that wraps the provided connection to the
// peer identified by authority.
func newChannel(conn net.Conn, authority netaddr.Authority, inbound bool) *Channel {
	ch := &Channel{
		conn:      conn,
		authority: authority,
		inbound:   inbound,
		nonce:     rand.Uint64(),
		quit:      make(chan struct{}),
		stopSub:   newSubscriber[error](nil),
	}
	ch.notify.Store(true)
	ch.stopSub.start()
	return ch
}

// Conn returns the underlying connection.  Protocols read from and write to
// it directly.
func (c *Channel) Conn() net.Conn {
	return c.conn
}

// Authority returns the identity of the remote peer.
func (c *Channel) Authority() netaddr.Authority {
	return c.authority
}

// Inbound returns whether the remote peer initiated the connection.
func (c *Channel) Inbound() bool {
	return c.inbound
}

// Nonce returns the random nonce of the channel.  Version protocols use it to
// detect connections to self.
func (c *Channel) Nonce() uint64 {
	return c.nonce
}

// Notify returns whether connection subscribers are told about the channel.
func (c *Channel) Notify() bool {
	return c.notify.Load()
}

// SetNotify sets whether connection subscribers are told about the channel.
func (c *Channel) SetNotify(notify bool) {
	c.notify.Store(notify)
}

// Pooled returns whether the channel is registered with the connection pool.
func (c *Channel) Pooled() bool {
	return c.pooled.Load()
}

// Attach attaches the protocols of the provided role using attacher and
// records the role.  A nil attacher only records the role.
func (c *Channel) Attach(role Role, attacher ProtocolAttacher) error {
	if c.Stopped() {
		str := fmt.Sprintf("unable to attach %s to stopped channel %s", role,
			c)
		return makeError(ErrChannelStopped, str)
	}
	if attacher != nil {
		if err := attacher.AttachProtocol(c, role); err != nil {
			return err
		}
	}

	c.rolesMtx.Lock()
	c.roles = append(c.roles, role)
	c.rolesMtx.Unlock()
	return nil
}

// Roles returns the roles attached to the channel in attachment order.
func (c *Channel) Roles() []Role {
	c.rolesMtx.Lock()
	defer c.rolesMtx.Unlock()
	return append([]Role(nil), c.roles...)
}

// Stop closes the connection and notifies stop subscribers with the provided
// reason.  Only the first call has any effect.
func (c *Channel) Stop(reason error) {
	c.stopOnce.Do(func() {
		if reason == nil {
			reason = makeError(ErrChannelStopped, "channel stopped")
		}
		c.stopErr = reason
		c.conn.Close()
		close(c.quit)
		log.Debugf("Channel %s stopped: %v", c, reason)
		c.stopSub.stop(reason)
	})
}

// Stopped returns whether the channel has been stopped.
func (c *Channel) Stopped() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the channel stops.
func (c *Channel) Done() <-chan struct{} {
	return c.quit
}

// Err returns the reason the channel stopped or nil while it is running.
func (c *Channel) Err() error {
	select {
	case <-c.quit:
		return c.stopErr
	default:
		return nil
	}
}

// SubscribeStop registers a handler that is invoked once with the stop reason
// when the channel stops.  It is invoked immediately when the channel is
// already stopped.
func (c *Channel) SubscribeStop(handler func(error)) {
	c.stopSub.subscribe(func(err error) bool {
		handler(err)
		return false
	})
}

// String returns the authority and direction of the channel.
func (c *Channel) String() string {
	direction := "outbound"
	if c.inbound {
		direction = "inbound"
	}
	return fmt.Sprintf("%s (%s)", c.authority, direction)
}
